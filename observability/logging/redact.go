package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// MaskValue hides a secret setting such as exporter headers. Blank values log
// as the empty string so an unset secret stays distinguishable.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return RedactedValue
}

// RedactDSN hides the password of a URL-style storage DSN. File paths and
// sqlite DSNs carry no credentials and are returned as is.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return dsn
	}
	if u.User == nil && u.RawQuery == "" {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), RedactedValue)
	}
	if q := u.Query(); q.Has("password") {
		q.Set("password", RedactedValue)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// DSNField returns a slog attribute carrying the redacted DSN.
func DSNField(key, dsn string) slog.Attr {
	return slog.String(key, RedactDSN(dsn))
}
