package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys are masked by every logger built in this package, whatever
// the call site passes.
var sensitiveKeys = []string{
	"authorization",
	"dsn",
	"jwt",
	"keystore",
	"passphrase",
	"password",
	"secret",
	"signature",
	"token",
}

// IsSensitive reports whether a log key names a credential or private path.
// Matching is by substring so keys such as "jwt_secret" are covered.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for _, s := range sensitiveKeys {
		if strings.Contains(normalized, s) {
			return true
		}
	}
	return false
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField always redacts value, for attributes whose key alone does not
// mark them as sensitive.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}

func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !IsSensitive(attr.Key) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
