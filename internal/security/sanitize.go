// Package security implements the task-queue Security Guard: blocklist/allowlist pattern matching against task payloads, a
// path-traversal check, and log sanitization.
package security

import (
	"regexp"
	"strings"
)

type sensitivePattern struct {
	name    string
	pattern *regexp.Regexp
	mask    string
}

var sensitivePatterns = []sensitivePattern{
	{
		name:    "bearer token",
		pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{8,}`),
		mask:    "Bearer [REDACTED]",
	},
	{
		name:    "api key",
		pattern: regexp.MustCompile(`(?i)(api[_-]?key)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{8,})['"]?`),
		mask:    "$1=[REDACTED]",
	},
	{
		name:    "password",
		pattern: regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]?([^'"\s]{4,})['"]?`),
		mask:    "$1=[REDACTED]",
	},
	{
		name:    "token",
		pattern: regexp.MustCompile(`(?i)(token)\s*[:=]\s*['"]?([A-Za-z0-9_\-.]{8,})['"]?`),
		mask:    "$1=[REDACTED]",
	},
	{
		name:    "secret",
		pattern: regexp.MustCompile(`(?i)(secret)\s*[:=]\s*['"]?([A-Za-z0-9_\-]{8,})['"]?`),
		mask:    "$1=[REDACTED]",
	},
}

// SanitizeString redacts api_key/password/secret/token/Bearer occurrences
// from a string before it reaches the audit log
func SanitizeString(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, p := range sensitivePatterns {
		result = p.pattern.ReplaceAllString(result, p.mask)
	}
	return result
}

// SanitizeMap redacts sensitive values in a details map, replacing any
// value whose key looks credential-like outright and sanitizing string
// values otherwise. Used before any CollectorResult/SaveDetails map is
// logged or audited.
func SanitizeMap(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	sanitized := make(map[string]interface{}, len(data))
	for key, value := range data {
		lowerKey := strings.ToLower(key)
		if isCredentialKey(lowerKey) {
			sanitized[key] = "[REDACTED]"
			continue
		}
		if s, ok := value.(string); ok {
			sanitized[key] = SanitizeString(s)
		} else {
			sanitized[key] = value
		}
	}
	return sanitized
}

func isCredentialKey(lowerKey string) bool {
	for _, needle := range []string{"password", "passwd", "pwd", "secret", "token", "api_key", "apikey", "credential"} {
		if strings.Contains(lowerKey, needle) {
			return true
		}
	}
	return false
}
