package shell

import (
	"fmt"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Sanitize rewrites an LLM-generated command line into safe, root-anchored
// form. It is a pure string transform: no disk or process access, and
// running it twice produces the same output.
//
// Rules, in order:
//  1. placeholder expansion  — repo_root/..., %REPO_ROOT%..., project_root/...
//  2. absolute-path rewrite  — paths under the literal workspace root become
//     env-var-relative expressions that survive session rebuilds
//  3. editable-install rewrite — pip install -e . targets the project root
//  4. -LiteralPath injection — PowerShell cmdlets taking a bare path argument
//  5. git-clone target normalization — cloning "into" the workspace root is
//     redirected to a subdirectory named after the repository
func Sanitize(command string, env EnvSnapshot, dialect Dialect) string {
	text := strings.TrimSpace(command)
	if text == "" {
		return command
	}

	text = expandPlaceholders(text, dialect)
	text = rewriteAbsolutePaths(text, env, dialect)
	text = rewriteEditableInstall(text, env, dialect)
	if _, ok := dialect.(PowerShell); ok {
		text = injectLiteralPath(text)
	}
	text = normalizeGitCloneTarget(text, dialect)
	return text
}

// ── rule 1: placeholder expansion ──

var (
	// repo_root/tail or repo_root\tail, guarded by a prefix class so
	// $env:REPO_ROOT and %REPO_ROOT% never re-match after rewriting.
	repoRootTailRe = regexp.MustCompile(`(^|[\s='"(])(?i:repo_root)[/\\]([^\s'"()|&;]+)`)
	repoRootBareRe = regexp.MustCompile(`(^|[\s='"(])(?i:repo_root)($|[\s'")&;|])`)
	projRootTailRe = regexp.MustCompile(`(^|[\s='"(])(?i:project_root)[/\\]([^\s'"()|&;]+)`)
	projRootBareRe = regexp.MustCompile(`(^|[\s='"(])(?i:project_root)($|[\s'")&;|])`)

	pctRepoTailRe = regexp.MustCompile(`%REPO_ROOT%[/\\]([^\s'"()|&;]+)`)
	pctRepoBareRe = regexp.MustCompile(`%REPO_ROOT%`)
	pctProjTailRe = regexp.MustCompile(`%PROJECT_ROOT%[/\\]([^\s'"()|&;]+)`)
	pctProjBareRe = regexp.MustCompile(`%PROJECT_ROOT%`)
)

func expandPlaceholders(text string, dialect Dialect) string {
	// Literal "$" in replacements must be doubled so the regexp template
	// expansion leaves $env:/$REPO_ROOT references intact.
	repoRef := templateEscape(dialect.EnvRef("REPO_ROOT"))
	projRef := templateEscape(dialect.EnvRef("PROJECT_ROOT"))

	text = repoRootTailRe.ReplaceAllString(text, "${1}"+dialectJoinTemplate(dialect, "REPO_ROOT", 2))
	text = projRootTailRe.ReplaceAllString(text, "${1}"+dialectJoinTemplate(dialect, "PROJECT_ROOT", 2))
	text = repoRootBareRe.ReplaceAllString(text, "${1}"+repoRef+"${2}")
	text = projRootBareRe.ReplaceAllString(text, "${1}"+projRef+"${2}")

	text = pctRepoTailRe.ReplaceAllString(text, dialectJoinTemplate(dialect, "REPO_ROOT", 1))
	text = pctProjTailRe.ReplaceAllString(text, dialectJoinTemplate(dialect, "PROJECT_ROOT", 1))
	text = pctRepoBareRe.ReplaceAllString(text, repoRef)
	text = pctProjBareRe.ReplaceAllString(text, projRef)
	return text
}

func templateEscape(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// dialectJoinTemplate returns the replacement template joining an env root
// with the regex capture holding the relative tail.
func dialectJoinTemplate(dialect Dialect, envName string, capture int) string {
	if _, ok := dialect.(PowerShell); ok {
		return fmt.Sprintf("(Join-Path $$env:%s '${%d}')", envName, capture)
	}
	return fmt.Sprintf(`"$$%s/${%d}"`, envName, capture)
}

// ── rule 2: absolute-path rewrite ──

func rewriteAbsolutePaths(text string, env EnvSnapshot, dialect Dialect) string {
	root := strings.TrimRight(env.RepoRoot, `/\`)
	if root == "" {
		return text
	}
	// Optional surrounding quotes are consumed so `cat "/ws/x"` does not end
	// up double-quoted after the rewrite.
	re := regexp.MustCompile(`(['"]?)` + regexp.QuoteMeta(root) + `[/\\]([^\s'"()|&;]+)(['"]?)`)
	text = re.ReplaceAllStringFunc(text, func(m string) string {
		sub := re.FindStringSubmatch(m)
		rel := sub[2]
		if _, ok := dialect.(PowerShell); ok {
			return fmt.Sprintf("(Join-Path $env:REPO_ROOT '%s')", psQuote(rel))
		}
		return fmt.Sprintf(`"$REPO_ROOT/%s"`, rel)
	})
	return text
}

// ── rule 3: editable install ──

var editableInstallRe = regexp.MustCompile(`(?i)\b(pip3?\s+install\s+(?:.*\s)?-e)\s+\.([/\\]?)(\s|$)`)

func rewriteEditableInstall(text string, env EnvSnapshot, dialect Dialect) string {
	if env.ProjectRoot == "" {
		return text
	}
	target := dialect.EnvRef("PROJECT_ROOT")
	if _, ok := dialect.(Bash); ok {
		target = `"` + target + `"`
	}
	return editableInstallRe.ReplaceAllString(text, "${1} "+templateEscape(target)+"${3}")
}

// ── rule 4: -LiteralPath injection (PowerShell) ──

// literalPathCmdlets accept -LiteralPath for a bare path argument.
var literalPathCmdlets = regexp.MustCompile(`(?i)\b(Get-Content|Get-ChildItem|Get-Item|Test-Path)\s+(\([^)]*\)|[^\s;|]+)`)

func injectLiteralPath(text string) string {
	return literalPathCmdlets.ReplaceAllStringFunc(text, func(m string) string {
		sub := literalPathCmdlets.FindStringSubmatch(m)
		cmdlet, arg := sub[1], sub[2]
		// Flags (including an already-injected -LiteralPath) pass through;
		// only bare path arguments gain the flag.
		if strings.HasPrefix(arg, "-") {
			return m
		}
		return cmdlet + " -LiteralPath " + arg
	})
}

// ── rule 5: git-clone target normalization ──

var psGitCloneRootRe = regexp.MustCompile(`(?i)\bgit\s+clone\s+((?:-\S+\s+)*)(\S+)\s+\$env:REPO_ROOT(\s|$|;)`)

func normalizeGitCloneTarget(text string, dialect Dialect) string {
	if _, ok := dialect.(PowerShell); ok {
		return psGitCloneRootRe.ReplaceAllStringFunc(text, func(m string) string {
			sub := psGitCloneRootRe.FindStringSubmatch(m)
			flags, url, tail := sub[1], sub[2], sub[3]
			name := RepoNameFromURL(url)
			return fmt.Sprintf("git clone %s%s (Join-Path $env:REPO_ROOT '%s')%s", flags, url, psQuote(name), tail)
		})
	}
	return normalizeGitCloneTargetBash(text)
}

// normalizeGitCloneTargetBash rewrites `git clone <url> $REPO_ROOT` (also the
// quoted form) into a subdirectory clone. The command line is parsed with the
// POSIX shell grammar so quoting and compound commands are handled correctly;
// unparseable input is left untouched.
func normalizeGitCloneTargetBash(text string) string {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(text), "")
	if err != nil {
		return text
	}

	type edit struct {
		start, end int
		repl       string
	}
	var edits []edit

	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) < 4 {
			return true
		}
		if litValue(call.Args[0]) != "git" || litValue(call.Args[1]) != "clone" {
			return true
		}
		last := call.Args[len(call.Args)-1]
		lastSrc := text[last.Pos().Offset():last.End().Offset()]
		if stripQuotes(lastSrc) != "$REPO_ROOT" {
			return true
		}
		urlWord := call.Args[len(call.Args)-2]
		url := stripQuotes(text[urlWord.Pos().Offset():urlWord.End().Offset()])
		if strings.HasPrefix(url, "-") {
			return true
		}
		name := RepoNameFromURL(url)
		edits = append(edits, edit{
			start: int(last.Pos().Offset()),
			end:   int(last.End().Offset()),
			repl:  fmt.Sprintf(`"$REPO_ROOT/%s"`, name),
		})
		return true
	})

	// Apply right-to-left so earlier offsets stay valid.
	for i := len(edits) - 1; i >= 0; i-- {
		e := edits[i]
		text = text[:e.start] + e.repl + text[e.end:]
	}
	return text
}

// litValue returns the literal text of a word composed of a single Lit part,
// "" otherwise.
func litValue(w *syntax.Word) string {
	if w == nil || len(w.Parts) != 1 {
		return ""
	}
	lit, ok := w.Parts[0].(*syntax.Lit)
	if !ok {
		return ""
	}
	return lit.Value
}

func stripQuotes(s string) string {
	return strings.Trim(s, `'"`)
}

// RepoNameFromURL derives the checkout directory name from a clone URL:
// last path segment with any .git suffix removed; "repo" when nothing
// usable remains.
func RepoNameFromURL(url string) string {
	u := strings.TrimRight(strings.Trim(strings.TrimSpace(url), `'"`), "/")
	if i := strings.LastIndexAny(u, `/\`); i >= 0 {
		u = u[i+1:]
	}
	u = strings.TrimSuffix(u, ".git")
	if u == "" {
		return "repo"
	}
	return u
}
