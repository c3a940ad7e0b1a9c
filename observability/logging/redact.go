package logging

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Keys that are safe to emit verbatim. Account and contract addresses are
// public ledger data.
var redactionAllowlist = map[string]struct{}{
	"service":    {},
	"env":        {},
	"message":    {},
	"severity":   {},
	"timestamp":  {},
	"error":      {},
	"reason":     {},
	"component":  {},
	"account":    {},
	"pool":       {},
	"token":      {},
	"kind":       {},
	"generation": {},
	"tx":         {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// RedactionAllowlist returns a sorted copy of the allowlisted keys.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the redacted placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// RedactURL keeps the scheme, host and path of an endpoint and masks the
// credentials and query string that RPC providers embed API keys in.
func RedactURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return MaskValue(raw)
	}
	if parsed.User != nil {
		parsed.User = url.User(RedactedValue)
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = "redacted"
	}
	// Provider keys are commonly the last path segment.
	if idx := strings.LastIndex(parsed.Path, "/"); idx >= 0 && len(parsed.Path)-idx-1 >= 24 {
		parsed.Path = parsed.Path[:idx+1] + RedactedValue
	}
	return parsed.String()
}
