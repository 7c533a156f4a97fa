package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxLineBytes bounds a single output line; pip progress bars and compiler
// dumps can produce very long lines.
const maxLineBytes = 1 << 20

// Result is the outcome of one command executed in a session.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Command  string `json:"command"`
	StartDir string `json:"start_dir"`
	EndDir   string `json:"end_dir"`
	TimedOut bool   `json:"timed_out"`
}

// Session wraps a persistent interactive shell subprocess. Commands execute
// one at a time under the session mutex; output framing uses per-command
// marker sentinels so exit codes travel over the shared stdout stream
// (stderr is merged into stdout at the pipe level — consumers never rely on
// stream separation).
type Session struct {
	token       string
	dialect     Dialect
	proc        *exec.Cmd
	stdin       io.WriteCloser
	lines       chan string
	done        chan struct{}
	lineTimeout time.Duration

	mu        sync.Mutex
	dead      bool
	closeOnce sync.Once
}

// errSessionDead reports command submission to a torn-down session.
var errSessionDead = fmt.Errorf("shell session is dead")

// newSession launches the shell subprocess anchored at cwd with
// REPO_ROOT/PROJECT_ROOT in its environment, then runs the dialect's init
// script (null prompt, env assignment, cd to the workspace root).
func newSession(dialect Dialect, env EnvSnapshot, lineTimeout time.Duration) (*Session, error) {
	argv := dialect.Argv()
	proc := exec.Command(argv[0], argv[1:]...)
	if env.RepoRoot != "" {
		proc.Dir = env.RepoRoot
	}
	proc.Env = append(os.Environ(),
		"REPO_ROOT="+env.RepoRoot,
		"PROJECT_ROOT="+env.ProjectRoot,
	)

	stdin, err := proc.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	// One pipe carries both streams; the per-command 2>&1 in Wrap keeps shell
	// builtins covered as well.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	proc.Stdout = outW
	proc.Stderr = outW

	if err := proc.Start(); err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("start %s: %w", dialect.Name(), err)
	}
	// Parent keeps only the read end.
	outW.Close()

	s := &Session{
		token:       strings.ReplaceAll(uuid.New().String(), "-", ""),
		dialect:     dialect,
		proc:        proc,
		stdin:       stdin,
		lines:       make(chan string, 64),
		done:        make(chan struct{}),
		lineTimeout: lineTimeout,
	}

	go s.readLoop(outR)

	initCmd := strings.Join(dialect.InitScript(env), "; ")
	if initCmd != "" {
		if _, _, _, err := s.run(context.Background(), initCmd, 30*time.Second); err != nil {
			s.teardown()
			return nil, fmt.Errorf("session init: %w", err)
		}
	}
	return s, nil
}

// Token returns the opaque session identifier.
func (s *Session) Token() string { return s.token }

// readLoop pumps subprocess output lines into the session channel until the
// pipe closes or the session is torn down.
func (s *Session) readLoop(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.done:
			return
		}
	}
	close(s.lines)
}

// run executes one command under the marker-sentinel protocol.
//
// Two timeout layers apply: lineTimeout bounds the silence between output
// lines; overall bounds the whole command. Breach of either returns
// timedOut=true with whatever output accumulated; the caller is expected to
// tear the session down.
func (s *Session) run(ctx context.Context, command string, overall time.Duration) (exitCode int, stdout string, timedOut bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead {
		return 0, "", false, errSessionDead
	}

	marker := "__END_" + strings.ReplaceAll(uuid.New().String(), "-", "") + "__"
	wrapped := s.dialect.Wrap(command, marker)
	if _, werr := io.WriteString(s.stdin, wrapped+"\n"); werr != nil {
		s.dead = true
		return 0, "", false, fmt.Errorf("write command: %w", werr)
	}

	var collected []string
	lineTimer := time.NewTimer(s.lineTimeout)
	defer lineTimer.Stop()

	var deadline <-chan time.Time
	if overall > 0 {
		overallTimer := time.NewTimer(overall)
		defer overallTimer.Stop()
		deadline = overallTimer.C
	}

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				// Subprocess exited mid-command.
				s.dead = true
				return 0, strings.Join(collected, "\n"), false, errSessionDead
			}
			if idx := strings.Index(line, marker); idx >= 0 {
				code := 0
				if c := strings.TrimPrefix(line[idx+len(marker):], ":"); c != "" {
					if n, perr := strconv.Atoi(strings.TrimSpace(c)); perr == nil {
						code = n
					}
				}
				return code, strings.TrimRight(strings.Join(collected, "\n"), "\n"), false, nil
			}
			collected = append(collected, line)
			if !lineTimer.Stop() {
				<-lineTimer.C
			}
			lineTimer.Reset(s.lineTimeout)

		case <-lineTimer.C:
			s.dead = true
			return 0, strings.Join(collected, "\n"), true, nil

		case <-deadline:
			s.dead = true
			return 0, strings.Join(collected, "\n"), true, nil

		case <-ctx.Done():
			s.dead = true
			return 0, strings.Join(collected, "\n"), true, nil
		}
	}
}

// pwd asks the session for its current working directory. Best effort:
// returns "" when the probe fails.
func (s *Session) pwd(ctx context.Context) string {
	code, out, timedOut, err := s.run(ctx, s.dialect.PwdCommand(), 10*time.Second)
	if err != nil || timedOut || code != 0 {
		return ""
	}
	// Last non-empty line survives any stray banner output.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// syncEnv re-asserts REPO_ROOT/PROJECT_ROOT inside the session. Facts may
// have changed since the session was opened.
func (s *Session) syncEnv(ctx context.Context, env EnvSnapshot) {
	var cmds []string
	if env.RepoRoot != "" {
		cmds = append(cmds, s.dialect.EnvAssign("REPO_ROOT", env.RepoRoot))
	}
	if env.ProjectRoot != "" {
		cmds = append(cmds, s.dialect.EnvAssign("PROJECT_ROOT", env.ProjectRoot))
	}
	if len(cmds) == 0 {
		return
	}
	_, _, _, _ = s.run(ctx, strings.Join(cmds, "; "), 10*time.Second)
}

// alive reports whether the session can still accept commands.
func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead
}

// teardown terminates the subprocess and releases pipes. Idempotent.
func (s *Session) teardown() {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.done)
		if s.stdin != nil {
			s.stdin.Close()
		}
		if s.proc != nil && s.proc.Process != nil {
			_ = s.proc.Process.Kill()
			_ = s.proc.Wait()
		}
	})
}
