// Package page implements the page entity and its once-computed,
// then-immutable property cache.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wikitools/wikiquery/pkg/batch"
	"github.com/wikitools/wikiquery/pkg/props"
	"github.com/wikitools/wikiquery/pkg/query"
)

// ErrReadOnlyProperty rejects writes into the property cache. Values are
// only ever produced by the fetch path.
var ErrReadOnlyProperty = errors.New("property is read-only")

// Page is one wiki page, addressed by title or numeric id (title wins
// when both are set). Each property is computed on the first read, cached,
// and immutable for the page's lifetime.
type Page struct {
	ref       query.PageRef
	requester query.Requester
	planner   *batch.Planner
	logger    zerolog.Logger

	mu     sync.Mutex
	values map[string]any
}

// New creates a page entity served by the given requester.
func New(requester query.Requester, ref query.PageRef) *Page {
	return &Page{
		ref:       ref,
		requester: requester,
		planner:   batch.NewPlanner(),
		values:    make(map[string]any),
		logger: log.With().
			Str("component", "page").
			Str("title", ref.Title).
			Str("pageid", ref.PageID).
			Logger(),
	}
}

// Ref returns the page's identity.
func (p *Page) Ref() query.PageRef { return p.ref }

// Cached reports the cached value for a property name without triggering
// a fetch.
func (p *Page) Cached(name string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.values[name]
	return value, ok
}

// Set always fails: property values are immutable once cached and may
// only be produced by the caching mechanism itself.
func (p *Page) Set(name string, _ any) error {
	return fmt.Errorf("%w: %s", ErrReadOnlyProperty, name)
}

// Get returns the property's value, computing and caching it on first
// access. Repeated reads return the identical cached value with no
// further network activity.
func (p *Page) Get(ctx context.Context, prop props.Property) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if value, ok := p.values[prop.Name()]; ok {
		return value, nil
	}
	if err := p.fetchLocked(ctx, []props.Property{prop}); err != nil {
		return nil, err
	}
	return p.values[prop.Name()], nil
}

// Fetch computes every not-yet-cached property of the batch in as few
// round trips as the planner allows.
func (p *Page) Fetch(ctx context.Context, properties ...props.Property) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	missing := make([]props.Property, 0, len(properties))
	for _, prop := range properties {
		if _, ok := p.values[prop.Name()]; !ok {
			missing = append(missing, prop)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return p.fetchLocked(ctx, missing)
}

// fetchLocked plans the batch, walks each group's continuation to
// completion and extracts every property from its group's accumulated
// output. Results are staged so a failing group caches nothing from the
// batch. Callers hold p.mu.
func (p *Page) fetchLocked(ctx context.Context, properties []props.Property) error {
	groups := p.planner.Plan(p.ref, properties)
	staged := make(map[string]any, len(properties))

	for _, group := range groups {
		if len(group.Props) == 0 {
			continue
		}
		walker := query.NewWalker(p.requester, group.Params, p.ref, "")
		grouped, err := query.Accumulate(ctx, walker)
		if err != nil {
			return fmt.Errorf("fetch properties: %w", err)
		}
		for _, prop := range group.Props {
			value, err := prop.Extract(grouped)
			if err != nil {
				return err
			}
			staged[prop.Name()] = value
		}
	}

	for name, value := range staged {
		p.values[name] = value
	}
	p.logger.Debug().Int("properties", len(staged)).Msg("Cached property batch")
	return nil
}

// Content returns the page's full plain-text body.
func (p *Page) Content(ctx context.Context) (string, error) {
	return p.getString(ctx, props.NewContent())
}

// Summary returns the bounded plain-text summary.
func (p *Page) Summary(ctx context.Context, opts props.SummaryOptions) (string, error) {
	return p.getString(ctx, props.NewSummary(opts))
}

// Images returns the sorted URL list of files used on the page.
func (p *Page) Images(ctx context.Context) ([]string, error) {
	return p.getStrings(ctx, props.NewImages())
}

// ExternalLinks returns the sorted list of external URLs on the page.
func (p *Page) ExternalLinks(ctx context.Context) ([]string, error) {
	return p.getStrings(ctx, props.NewExternalLinks())
}

func (p *Page) getString(ctx context.Context, prop props.Property) (string, error) {
	value, err := p.Get(ctx, prop)
	if err != nil {
		return "", err
	}
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("property %s: unexpected value type %T", prop.Name(), value)
	}
	return text, nil
}

func (p *Page) getStrings(ctx context.Context, prop props.Property) ([]string, error) {
	value, err := p.Get(ctx, prop)
	if err != nil {
		return nil, err
	}
	list, ok := value.([]string)
	if !ok {
		return nil, fmt.Errorf("property %s: unexpected value type %T", prop.Name(), value)
	}
	return list, nil
}
