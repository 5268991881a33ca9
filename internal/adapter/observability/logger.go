// Package observability provides logging, metrics, tracing, and correlation.
package observability

import (
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/fairyhunter13/sprite-forge/internal/config"
)

// sensitiveKeys are attribute keys whose values are redacted before emission.
var sensitiveKeys = map[string]struct{}{
	"apikey":        {},
	"api_key":       {},
	"authorization": {},
}

var bearerRe = regexp.MustCompile(`(?i)bearer\s+(\S+)`)

// SetupLogger configures a JSON slog logger with environment fields and
// sensitive-value redaction.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		ReplaceAttr: redactAttr,
	}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
	return logger
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok {
		if a.Value.Kind() == slog.KindString {
			a.Value = slog.StringValue(Redact(a.Value.String()))
		}
		return a
	}
	if a.Value.Kind() == slog.KindString {
		s := a.Value.String()
		if bearerRe.MatchString(s) {
			a.Value = slog.StringValue(bearerRe.ReplaceAllStringFunc(s, func(m string) string {
				parts := strings.Fields(m)
				if len(parts) != 2 {
					return m
				}
				return parts[0] + " " + Redact(parts[1])
			}))
		}
	}
	return a
}

// Redact shows the first and last four characters of a secret with the
// middle replaced. Short values are fully masked.
func Redact(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "..." + s[len(s)-4:]
}
