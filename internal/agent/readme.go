package agent

import (
	"regexp"
	"strings"
)

var (
	readmeTitleRe   = regexp.MustCompile(`(?m)^\s*#\s+(.+)$`)
	installCmdRe    = regexp.MustCompile(`(?mi)^(?:\s*[-*]\s*)?((?:pipx?|conda|poetry|pdm|uv)\s+[^\n]+)$`)
	runCmdRe        = regexp.MustCompile(`(?mi)^(?:\s*[-*]\s*)?(python\s+-m\s+\S+|pytest\b[^\n]*|uvicorn\b[^\n]*|streamlit\b[^\n]*|gunicorn\b[^\n]*|make\s+\S+)\s*$`)
	pythonMinRe     = regexp.MustCompile(`(?i)python\s*(?:>=|=>)?\s*([0-9]+\.[0-9]+)`)
	markdownLinkRe  = regexp.MustCompile(`\((https?://[^)]+)\)`)
	entryPointRe    = regexp.MustCompile("(?m)^\\s*(?:\\$\\s+)?`?([a-z][\\w-]{2,})`?\\s+--?[a-z]")
	maxReadmeScan   = 64 * 1024
	maxDescription  = 400
)

// ExtractReadmeInfo pulls structured setup information out of README text:
// project name, description, install/run commands, minimum Python version,
// entry points and links. Best-effort: absent sections simply stay absent.
func ExtractReadmeInfo(text string) map[string]any {
	info := map[string]any{}
	text = strings.TrimSpace(text)
	if text == "" {
		return info
	}
	if len(text) > maxReadmeScan {
		text = text[:maxReadmeScan]
	}

	if m := readmeTitleRe.FindStringSubmatch(text); m != nil {
		info["project_name"] = strings.TrimSpace(m[1])
	}

	if desc := firstParagraphAfterTitle(text); desc != "" {
		info["description"] = desc
	}

	if cmds := dedupeMatches(installCmdRe.FindAllStringSubmatch(text, -1)); len(cmds) > 0 {
		info["install_cmds"] = cmds
	}
	if cmds := dedupeMatches(runCmdRe.FindAllStringSubmatch(text, -1)); len(cmds) > 0 {
		info["run_cmds"] = cmds
	}
	if m := pythonMinRe.FindStringSubmatch(text); m != nil {
		info["python_min_version"] = m[1]
	}
	if entries := dedupeMatches(entryPointRe.FindAllStringSubmatch(text, -1)); len(entries) > 0 {
		info["entry_points"] = entries
	}
	if links := dedupeMatches(markdownLinkRe.FindAllStringSubmatch(text, -1)); len(links) > 0 {
		info["links"] = links
	}
	return info
}

// firstParagraphAfterTitle returns the first non-empty paragraph following
// the top-level heading.
func firstParagraphAfterTitle(text string) string {
	lines := strings.Split(text, "\n")
	var desc []string
	hitTitle := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !hitTitle {
			if strings.HasPrefix(trimmed, "# ") {
				hitTitle = true
			}
			continue
		}
		if trimmed == "" {
			if len(desc) > 0 {
				break
			}
			continue
		}
		// Skip badge rows and further headings.
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[![") {
			if len(desc) > 0 {
				break
			}
			continue
		}
		desc = append(desc, trimmed)
	}
	joined := strings.Join(desc, " ")
	if len(joined) > maxDescription {
		joined = joined[:maxDescription]
	}
	return joined
}

func dedupeMatches(matches [][]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		v := strings.TrimSpace(m[1])
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
