package observability

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// CorrelationHeader is the single propagation header for correlation ids.
// Extraction is case-insensitive (net/http canonicalizes header names).
const CorrelationHeader = "X-Correlation-ID"

// Correlation ties together log and metric events across a request chain.
// Child contexts increment Depth and record their Parent.
type Correlation struct {
	ID     string
	Parent string
	Depth  int
}

type correlationContextKey struct{}

// NewCorrelation mints a fresh version-4 correlation id.
func NewCorrelation() Correlation {
	return Correlation{ID: uuid.NewString()}
}

// ValidCorrelationID accepts any non-empty id after trimming. Narrowing to
// UUIDv4 at ingress was considered and rejected to keep interop with
// upstream gateways that send their own id formats.
func ValidCorrelationID(id string) bool {
	return strings.TrimSpace(id) != ""
}

// ContextWithCorrelation attaches the correlation to the context.
func ContextWithCorrelation(ctx context.Context, c Correlation) context.Context {
	if ctx == nil || c.ID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey{}, c)
}

// CorrelationFromContext retrieves the correlation, or ok=false when absent.
func CorrelationFromContext(ctx context.Context) (Correlation, bool) {
	if ctx == nil {
		return Correlation{}, false
	}
	if v := ctx.Value(correlationContextKey{}); v != nil {
		if c, ok := v.(Correlation); ok {
			return c, true
		}
	}
	return Correlation{}, false
}

// ChildCorrelation derives a correlation for a nested unit of work: the id
// is preserved as parent and the depth increments.
func ChildCorrelation(c Correlation) Correlation {
	return Correlation{ID: uuid.NewString(), Parent: c.ID, Depth: c.Depth + 1}
}

// EnsureCorrelation returns the context's correlation, minting one when the
// context carries none.
func EnsureCorrelation(ctx context.Context) (context.Context, Correlation) {
	if c, ok := CorrelationFromContext(ctx); ok {
		return ctx, c
	}
	c := NewCorrelation()
	return ContextWithCorrelation(ctx, c), c
}
