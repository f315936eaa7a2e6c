package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/wikitools/wikiquery/pkg/query"
)

// ScriptedRequester replays canned responses in order, recording every
// request it sees. It implements query.Requester for pure unit tests that
// need no HTTP server.
type ScriptedRequester struct {
	mu        sync.Mutex
	responses []query.Response

	// FailAt makes the round with this 1-based index return Err instead
	// of a response; 0 disables it.
	FailAt int
	Err    error

	// Calls holds a copy of the parameters of every request made.
	Calls []query.Params
}

// NewScriptedRequester builds a requester from JSON response bodies.
func NewScriptedRequester(t *testing.T, bodies ...string) *ScriptedRequester {
	t.Helper()

	responses := make([]query.Response, 0, len(bodies))
	for _, body := range bodies {
		var resp query.Response
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			t.Fatalf("Invalid scripted response %q: %v", body, err)
		}
		responses = append(responses, resp)
	}
	return &ScriptedRequester{responses: responses}
}

// Request implements query.Requester.
func (s *ScriptedRequester) Request(_ context.Context, params query.Params) (query.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, params.Copy())

	if s.FailAt > 0 && len(s.Calls) == s.FailAt {
		return nil, s.Err
	}
	if len(s.responses) == 0 {
		// Out of script: the server found nothing.
		return query.Response{"batchcomplete": ""}, nil
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	return next, nil
}

// CallCount returns the number of requests made.
func (s *ScriptedRequester) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
