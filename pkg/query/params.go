package query

import (
	"context"
	"fmt"
	"strconv"
)

// GeneratorParam marks a parameter set as generator-bearing. Generator
// queries reshape the response's item axis and must run alone.
const GeneratorParam = "generator"

// Max is the server-defined sentinel for "as many as the server allows".
const Max = "max"

// Params is a flat mapping of action API request parameters. An empty
// string value is a valid flag parameter (e.g. explaintext).
type Params map[string]string

// Copy returns an independent copy of p. Copying a nil Params yields an
// empty one.
func (p Params) Copy() Params {
	out := make(Params, len(p))
	for name, value := range p {
		out[name] = value
	}
	return out
}

// HasGenerator reports whether the parameter set is generator-bearing.
func (p Params) HasGenerator() bool {
	_, ok := p[GeneratorParam]
	return ok
}

// PageRef identifies the page a query addresses, by title or by numeric
// page id. Title takes precedence when both are set.
type PageRef struct {
	Title  string
	PageID string
}

// IdentityParams returns the parameter addressing the page.
func (r PageRef) IdentityParams() Params {
	if r.Title != "" {
		return Params{"titles": r.Title}
	}
	return Params{"pageids": r.PageID}
}

// Requester performs one request/response round trip against the remote
// API. Implementations own transport, authentication and retry policy;
// their errors propagate unmodified to the caller of the property read.
type Requester interface {
	Request(ctx context.Context, params Params) (Response, error)
}

// Response is the decoded JSON envelope of one round trip.
type Response map[string]any

// QuerySection returns the top-level query section. ok is false when the
// server signaled no data (the section is absent or not an object).
func (r Response) QuerySection() (map[string]any, bool) {
	section, ok := r["query"].(map[string]any)
	return section, ok
}

// ContinueSection returns the continuation section, or nil when the
// server signaled completion.
func (r Response) ContinueSection() map[string]any {
	section, ok := r["continue"].(map[string]any)
	if !ok {
		return nil
	}
	return section
}

// paramString renders a continuation value as a request parameter.
// Continuation tokens arrive as JSON strings or numbers.
func paramString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
