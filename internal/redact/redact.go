// Package redact scrubs credentials, connection strings and other sensitive
// fragments from strings before they reach logs or HTTP error bodies.
package redact

import (
	"net/url"
	"regexp"
)

// Placeholders substituted for redacted fragments
const (
	Placeholder           = "[REDACTED]"
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	PathPlaceholder       = "[REDACTED_PATH]"
	SQLPlaceholder        = "[REDACTED_SQL]"
)

type rule struct {
	re          *regexp.Regexp
	placeholder string
}

// rules run in order; connection strings go first so their userinfo is
// removed before the generic key patterns see it.
var rules = []rule{
	{
		regexp.MustCompile(`(?i)\b(postgres(?:ql)?|rediss?|mysql|mongodb(?:\+srv)?)://[^@\s]+@`),
		CredentialPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`),
		CredentialPlaceholder,
	},
	{
		// Google API keys, as used for Gemini
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		KeyPlaceholder,
	},
	{
		regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`),
		KeyPlaceholder,
	},
	{
		regexp.MustCompile(
			`(?i)(api[_-]?key|secret[_-]?(?:access[_-]?)?key|token|secret|x-goog-api-key)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
		),
		KeyPlaceholder,
	},
	{
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
		"[REDACTED_JWT]",
	},
	{
		regexp.MustCompile(
			`(?i)\b(SELECT|INSERT|UPDATE|DELETE)\b[\s\w,*()$.=']+\b(FROM|INTO|SET|WHERE)\b[\s\w,*()$.=':<>]*`,
		),
		SQLPlaceholder,
	},
	{
		regexp.MustCompile(`(?:goroutine \d+ \[[^\]]*\]:|panic:)[\s\S]*?(\n\t.*)+`),
		"[STACK_TRACE_REDACTED]",
	},
	{
		regexp.MustCompile(`(/[\w.-]+){2,}`),
		PathPlaceholder,
	},
}

// String redacts sensitive information from the input string
func String(input string) string {
	if input == "" {
		return input
	}

	result := input
	for _, r := range rules {
		result = r.re.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// URL returns raw with any password removed, suitable for logging a
// configured DSN. Unparseable input is replaced entirely.
func URL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Placeholder
	}
	return u.Redacted()
}
