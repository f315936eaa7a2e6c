// Package batch partitions property requests into the minimum number of
// conflict-free query groups, each served by one continuation walk.
package batch

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wikitools/wikiquery/pkg/props"
	"github.com/wikitools/wikiquery/pkg/query"
)

// Group pairs merged request parameters with the properties they serve.
// Its lifetime is one batch-fetch operation.
type Group struct {
	Params query.Params
	Props  []props.Property
}

// Planner assigns properties to groups. Parameters named in the
// multi-value set merge differing values as a pipe-delimited token union;
// any other shared parameter with differing values is a conflict and
// forces a dedicated group.
type Planner struct {
	multiValue map[string]struct{}
	logger     zerolog.Logger
}

// DefaultMultiValue lists the action API selector parameters the built-in
// properties use. Values under these names are pipe-delimited lists.
func DefaultMultiValue() []string {
	return []string{"prop", "list", "meta", "rvprop", "iiprop", "inprop", "elprop", "clprop"}
}

// NewPlanner creates a planner. With no arguments the default multi-value
// set applies.
func NewPlanner(multiValue ...string) *Planner {
	if len(multiValue) == 0 {
		multiValue = DefaultMultiValue()
	}
	set := make(map[string]struct{}, len(multiValue))
	for _, name := range multiValue {
		set[name] = struct{}{}
	}
	return &Planner{
		multiValue: set,
		logger:     log.With().Str("component", "planner").Logger(),
	}
}

// Plan assigns every property to exactly one group. The main group comes
// first even when nothing merged into it; generator-bearing and
// conflicting properties get dedicated groups in encounter order.
func (pl *Planner) Plan(page query.PageRef, properties []props.Property) []Group {
	main := Group{Params: query.Params{}}
	var dedicated []Group

	for _, prop := range properties {
		params := prop.QueryParams(page)

		if params.HasGenerator() {
			// A generator reshapes the whole response's item axis; it can
			// never share a result-grouping convention with plain queries.
			dedicated = append(dedicated, Group{Params: params, Props: []props.Property{prop}})
			continue
		}

		if pl.conflicts(main.Params, params) {
			pl.logger.Debug().
				Str("property", prop.Name()).
				Msg("Parameter conflict, opening dedicated group")
			dedicated = append(dedicated, Group{Params: params, Props: []props.Property{prop}})
			continue
		}

		pl.mergeInto(main.Params, params)
		main.Props = append(main.Props, prop)
	}

	groups := make([]Group, 0, 1+len(dedicated))
	groups = append(groups, main)
	groups = append(groups, dedicated...)
	return groups
}

// conflicts reports whether params cannot merge into merged: a shared
// name holds a differing value that is not list-appendable.
func (pl *Planner) conflicts(merged, params query.Params) bool {
	for name, value := range params {
		existing, present := merged[name]
		if !present || existing == value {
			continue
		}
		if _, multi := pl.multiValue[name]; !multi {
			return true
		}
	}
	return false
}

// mergeInto overlays params onto merged, unioning multi-value parameters.
func (pl *Planner) mergeInto(merged, params query.Params) {
	for name, value := range params {
		existing, present := merged[name]
		switch {
		case !present:
			merged[name] = value
		case existing == value:
			// Deduplicated.
		default:
			merged[name] = unionList(existing, value)
		}
	}
}

// unionList merges two pipe-delimited lists, preserving the order tokens
// were first seen and dropping duplicates.
func unionList(existing, value string) string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, list := range []string{existing, value} {
		for _, token := range strings.Split(list, "|") {
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
	}
	return strings.Join(tokens, "|")
}
