package shell

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/netreee/setup-agent/internal/trace"
)

// Manager owns the map of live shell sessions, keyed by opaque token. It is
// the only component that creates, runs commands in, and destroys sessions.
// One Manager exists per agent run; pass it explicitly, never as a hidden
// global.
type Manager struct {
	mu          sync.Mutex
	dialect     Dialect
	sessions    map[string]*Session
	lineTimeout time.Duration
}

// NewManager creates a session manager for the given dialect. lineTimeout
// bounds the silence between output lines of a running command.
func NewManager(dialect Dialect, lineTimeout time.Duration) *Manager {
	if lineTimeout <= 0 {
		lineTimeout = 600 * time.Second
	}
	return &Manager{
		dialect:     dialect,
		sessions:    make(map[string]*Session),
		lineTimeout: lineTimeout,
	}
}

// Dialect returns the dialect this manager drives.
func (m *Manager) Dialect() Dialect { return m.dialect }

// Open launches a fresh session anchored at env.RepoRoot and returns its
// token. The workspace root is created when missing.
func (m *Manager) Open(env EnvSnapshot) (string, error) {
	if env.RepoRoot != "" {
		if err := os.MkdirAll(env.RepoRoot, 0o755); err != nil {
			return "", fmt.Errorf("create workspace root: %w", err)
		}
	}
	s, err := newSession(m.dialect, env, m.lineTimeout)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.sessions[s.Token()] = s
	m.mu.Unlock()
	trace.Note("shell", "session_opened", s.Token())
	return s.Token(), nil
}

// Run executes a raw command in the session identified by token, applying
// the sanitizer and re-syncing env vars first. A missing or dead session is
// replaced transparently; the returned token identifies the session that
// actually ran the command and may differ from the input.
//
// Timeout breach tears the session down and synthesizes
// {exit_code: 124, timed_out: true}.
func (m *Manager) Run(ctx context.Context, token, rawCommand string, timeout time.Duration, env EnvSnapshot) (string, Result, error) {
	sess, err := m.acquire(token, env)
	if err != nil {
		return "", Result{}, err
	}
	token = sess.Token()

	sess.syncEnv(ctx, env)
	startDir := sess.pwd(ctx)

	command := Sanitize(rawCommand, env, m.dialect)
	if command != rawCommand {
		trace.Note("shell", "sanitized_command", command)
	}

	code, stdout, timedOut, runErr := sess.run(ctx, command, timeout)
	if timedOut {
		m.Close(token)
		secs := int(timeout / time.Second)
		return token, Result{
			ExitCode: 124,
			Stdout:   fmt.Sprintf("Timed out after %ds", secs),
			Command:  command,
			StartDir: startDir,
			EndDir:   startDir,
			TimedOut: true,
		}, nil
	}
	if runErr != nil {
		// Session died mid-command (process exit, broken pipe). Remove it; the
		// next Run opens a fresh one.
		m.Close(token)
		return token, Result{
			ExitCode: 1,
			Stdout:   stdout,
			Command:  command,
			StartDir: startDir,
			EndDir:   startDir,
		}, nil
	}

	endDir := sess.pwd(ctx)
	if endDir == "" {
		endDir = startDir
	}
	return token, Result{
		ExitCode: code,
		Stdout:   stdout,
		Command:  command,
		StartDir: startDir,
		EndDir:   endDir,
	}, nil
}

// SyncEnv re-asserts REPO_ROOT/PROJECT_ROOT in an existing session. No-op
// for unknown tokens.
func (m *Manager) SyncEnv(ctx context.Context, token string, env EnvSnapshot) {
	m.mu.Lock()
	sess := m.sessions[token]
	m.mu.Unlock()
	if sess != nil && sess.alive() {
		sess.syncEnv(ctx, env)
	}
}

// Close terminates a session and removes it from the map. Idempotent.
func (m *Manager) Close(token string) {
	m.mu.Lock()
	sess := m.sessions[token]
	delete(m.sessions, token)
	m.mu.Unlock()
	if sess != nil {
		sess.teardown()
		trace.Note("shell", "session_closed", token)
	}
}

// CloseAll terminates every live session. Called at process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.teardown()
	}
}

// acquire returns the live session for token, or opens a replacement when
// the token is unknown or its session has died.
func (m *Manager) acquire(token string, env EnvSnapshot) (*Session, error) {
	m.mu.Lock()
	sess := m.sessions[token]
	m.mu.Unlock()

	if sess != nil && sess.alive() {
		return sess, nil
	}
	if sess != nil {
		m.Close(token)
	}
	newToken, err := m.Open(env)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	sess = m.sessions[newToken]
	m.mu.Unlock()
	return sess, nil
}
