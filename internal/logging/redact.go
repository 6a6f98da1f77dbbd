package logging

import (
	"regexp"
	"strings"
)

// Argument and field names whose values are never logged.
var sensitiveFields = []string{
	"password",
	"passphrase",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
	"privatekey",
}

var secretPatterns = []*regexp.Regexp{
	// PEM private keys, inline in a command or echoed in output
	regexp.MustCompile(`(?s)-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----.*?-----END [A-Z0-9 ]*PRIVATE KEY-----`),

	// sshpass -p SECRET, sudo-style piping of a literal password
	regexp.MustCompile(`(sshpass\s+-p\s*)('[^']*'|"[^"]*"|\S+)`),

	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(ghp_[a-zA-Z0-9]{36})`),
	regexp.MustCompile(`(?i)(github_pat_[a-zA-Z0-9]{22}_[a-zA-Z0-9]+)`),

	// KEY=value assignments whose name marks a secret
	regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:PASSWORD|PASSPHRASE|SECRET|TOKEN)[A-Z0-9_]*=)("[^"]*"|'[^']*'|\S+)`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces secrets in s. Patterns with a captured prefix keep it.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		if pattern.NumSubexp() == 2 {
			result = pattern.ReplaceAllString(result, "${1}"+RedactedValue)
			continue
		}
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactMap returns a copy of m with sensitive fields replaced and string
// values passed through Redact.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveField(k) {
			result[k] = RedactedValue
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			result[k] = RedactMap(val)
		case string:
			result[k] = Redact(val)
		default:
			result[k] = v
		}
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
