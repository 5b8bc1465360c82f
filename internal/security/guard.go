package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// blocklist matches known-dangerous payload shapes: recursive delete, direct filesystem removal, permission changes,
// sensitive-path access, firewall/service control, curl|wget-to-shell,
// eval/exec/dynamic import, credential echoing, and SQL injection shapes.
var blocklist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-rf`),
	regexp.MustCompile(`(?i)\bos\.(remove|removeall)\b`),
	regexp.MustCompile(`(?i)\bchmod\b|\bchown\b`),
	regexp.MustCompile(`(?i)/etc(/|$)`),
	regexp.MustCompile(`(?i)~?/\.ssh(/|$)`),
	regexp.MustCompile(`(?i)\b(iptables|ufw|systemctl|service)\b`),
	regexp.MustCompile(`(?i)\b(curl|wget)\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`(?i)\beval\s*\(|\bexec\s*\(|__import__\s*\(`),
	regexp.MustCompile(`(?i)\b(echo|print)\b.*(password|secret|token)`),
	regexp.MustCompile(`(?i)(;|--|')\s*(drop|delete|union)\s+(table|select|from)`),
}

// allowlist gates task types that may only perform a narrow set of
// operations.
var allowlist = map[string][]*regexp.Regexp{
	"data_collection": {
		regexp.MustCompile(`(?i)^(GET|POST)\s`),
		regexp.MustCompile(`(?i)"method"\s*:\s*"(GET|POST)"`),
		regexp.MustCompile(`(?i)data/(bronze|silver|raw)/`),
	},
	"email": {
		regexp.MustCompile(`(?i)"to"\s*:`),
		regexp.MustCompile(`(?i)"subject"\s*:`),
	},
}

// Guard evaluates task payloads against the blocklist/allowlist/path
// rules before the executor dispatches them to a handler.
type Guard struct {
	dataRoots []string // declared data/temp directories delete ops may touch
}

// NewGuard builds a Guard scoped to the given declared data/temp roots.
func NewGuard(dataRoots []string) *Guard {
	resolved := make([]string, len(dataRoots))
	for i, r := range dataRoots {
		resolved[i] = filepath.Clean(r)
	}
	return &Guard{dataRoots: resolved}
}

// Verdict is the result of a Check: Allowed is false exactly when the
// payload must be rejected as a non-retryable failure.
type Verdict struct {
	Allowed bool
	Reason  string
}

// Check runs the blocklist, allowlist (for gated task types) and path
// checks against a stringified payload
func (g *Guard) Check(taskType, payload string) Verdict {
	for _, pattern := range blocklist {
		if pattern.MatchString(payload) {
			return Verdict{Allowed: false, Reason: fmt.Sprintf("blocklist match: %s", pattern.String())}
		}
	}

	if patterns, gated := allowlist[strings.ToLower(taskType)]; gated {
		matched := false
		for _, pattern := range patterns {
			if pattern.MatchString(payload) {
				matched = true
				break
			}
		}
		if !matched {
			return Verdict{Allowed: false, Reason: "payload does not match any allowlisted pattern for task type " + taskType}
		}
	}

	if v := g.checkPaths(payload); !v.Allowed {
		return v
	}

	return Verdict{Allowed: true}
}

// blockedPathPrefixes are resolved-path prefixes no task may touch,
// regardless of declared data roots.
var blockedPathPrefixes = []string{"/etc", "/root/.ssh", "/.ssh"}

// pathLiteral extracts bare filesystem-looking tokens from a payload for
// the path check. It is deliberately permissive: anything that looks
// like an absolute or home-relative path gets resolved and checked.
var pathLiteral = regexp.MustCompile(`(?:^|[\s"'=])(/[\w./-]+|~[\w./-]*)`)

func (g *Guard) checkPaths(payload string) Verdict {
	for _, m := range pathLiteral.FindAllStringSubmatch(payload, -1) {
		raw := m[1]
		resolved := resolvePath(raw)
		for _, blocked := range blockedPathPrefixes {
			if strings.HasPrefix(resolved, blocked) {
				return Verdict{Allowed: false, Reason: "path resolves under blocklisted directory: " + resolved}
			}
		}
		if isDeleteOperation(payload) && !g.withinDataRoots(resolved) {
			return Verdict{Allowed: false, Reason: "delete operation outside declared data/temp roots: " + resolved}
		}
	}
	return Verdict{Allowed: true}
}

func (g *Guard) withinDataRoots(resolved string) bool {
	for _, root := range g.dataRoots {
		if strings.HasPrefix(resolved, root) {
			return true
		}
	}
	return false
}

var deleteOpPattern = regexp.MustCompile(`(?i)\b(delete|remove|unlink|rm)\b`)

func isDeleteOperation(payload string) bool {
	return deleteOpPattern.MatchString(payload)
}

func resolvePath(raw string) string {
	if strings.HasPrefix(raw, "~") {
		raw = "/root" + strings.TrimPrefix(raw, "~")
	}
	return filepath.Clean(raw)
}
