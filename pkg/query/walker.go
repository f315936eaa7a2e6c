// Package query implements the action API continuation protocol: request
// parameters, the response envelope, the continuation walker and the
// fragment accumulator.
package query

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultKey is the query substructure the walker reads items from.
const DefaultKey = "pages"

// ErrUnexpectedShape is returned when the pages section has a shape the
// walker cannot attribute to the addressed page: a JSON array, or a
// multi-page mapping for a page whose id is unknown.
var ErrUnexpectedShape = errors.New("unexpected pages shape")

// Fragment is one (field, value) datum emitted per continuation round.
// Value is a scalar or an ordered sequence; grouping happens in Accumulate.
type Fragment struct {
	Field string
	Value any
}

// Walker drives one query to exhaustion, following the server's
// continuation tokens. It is a finite, non-restartable sequence: create a
// fresh Walker for every walk.
type Walker struct {
	requester Requester
	params    Params
	page      PageRef
	key       string
	logger    zerolog.Logger

	pending  []Fragment
	lastCont map[string]any
	rounds   int
	done     bool
}

// NewWalker prepares a walk of the given query. An empty key selects
// DefaultKey.
func NewWalker(requester Requester, params Params, page PageRef, key string) *Walker {
	if key == "" {
		key = DefaultKey
	}
	return &Walker{
		requester: requester,
		params:    params,
		page:      page,
		key:       key,
		logger:    log.With().Str("component", "walker").Logger(),
		// Starts empty, not nil, so a first-round empty continue section
		// compares equal and ends the walk.
		lastCont: map[string]any{},
	}
}

// Next returns the next fragment; ok is false once the walk is complete.
// A requester failure aborts the walk and the caller must discard
// fragments from earlier rounds.
func (w *Walker) Next(ctx context.Context) (Fragment, bool, error) {
	for len(w.pending) == 0 {
		if w.done {
			return Fragment{}, false, nil
		}
		if err := w.fetchRound(ctx); err != nil {
			w.done = true
			return Fragment{}, false, err
		}
	}
	frag := w.pending[0]
	w.pending = w.pending[1:]
	return frag, true, nil
}

// fetchRound issues one round trip and buffers its fragments. It marks the
// walk done when the server omits the query section, omits the
// continuation section, or repeats the previous round's token verbatim.
func (w *Walker) fetchRound(ctx context.Context) error {
	params := w.params.Copy()
	for name, value := range w.lastCont {
		params[name] = paramString(value)
	}

	resp, err := w.requester.Request(ctx, params)
	if err != nil {
		return fmt.Errorf("continuation round %d: %w", w.rounds+1, err)
	}
	w.rounds++

	section, ok := resp.QuerySection()
	if !ok {
		w.done = true
		return nil
	}

	frags, err := w.roundFragments(section)
	if err != nil {
		w.done = true
		return err
	}
	w.pending = append(w.pending, frags...)

	cont := resp.ContinueSection()
	if cont == nil || reflect.DeepEqual(cont, w.lastCont) {
		// A token identical to the previous round's means the server is
		// not making progress; stop instead of looping forever.
		w.done = true
		return nil
	}
	w.lastCont = cont

	w.logger.Debug().
		Int("round", w.rounds).
		Int("fragments", len(frags)).
		Msg("Continuing query")
	return nil
}

// roundFragments extracts one round's fragments from the query section.
func (w *Walker) roundFragments(section map[string]any) ([]Fragment, error) {
	items, ok := section[w.key]
	if !ok {
		return nil, nil
	}

	if generator := w.params[GeneratorParam]; w.params.HasGenerator() {
		pages, ok := items.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: generator %q section is %T", ErrUnexpectedShape, w.key, items)
		}
		// Emit in sorted key order so arrival order within a round is
		// deterministic for extractors that preserve it.
		keys := make([]string, 0, len(pages))
		for key := range pages {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		frags := make([]Fragment, 0, len(pages))
		for _, key := range keys {
			frags = append(frags, Fragment{Field: generator, Value: pages[key]})
		}
		return frags, nil
	}

	switch pages := items.(type) {
	case []any:
		// The upstream behavior of array-shaped sections is undefined;
		// refuse them instead of guessing a grouping convention.
		return nil, fmt.Errorf("%w: array-shaped %q section", ErrUnexpectedShape, w.key)
	case map[string]any:
		entry, err := w.pageEntry(pages)
		if err != nil {
			return nil, err
		}
		frags := make([]Fragment, 0, len(entry))
		for field, value := range entry {
			frags = append(frags, Fragment{Field: field, Value: value})
		}
		return frags, nil
	default:
		return nil, fmt.Errorf("%w: %q section is %T", ErrUnexpectedShape, w.key, items)
	}
}

// pageEntry picks the addressed page's data out of the id-keyed mapping.
// Pages addressed by title have no id yet, so a sole entry is accepted.
func (w *Walker) pageEntry(pages map[string]any) (map[string]any, error) {
	var raw any
	switch {
	case w.page.PageID != "":
		entry, ok := pages[w.page.PageID]
		if !ok {
			return nil, fmt.Errorf("%w: page id %s missing from response", ErrUnexpectedShape, w.page.PageID)
		}
		raw = entry
	case len(pages) == 1:
		for _, entry := range pages {
			raw = entry
		}
	default:
		return nil, fmt.Errorf("%w: %d pages in response, page id unknown", ErrUnexpectedShape, len(pages))
	}

	entry, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: page entry is %T", ErrUnexpectedShape, raw)
	}
	return entry, nil
}
