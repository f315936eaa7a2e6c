// Package props defines derivable page properties: the capability
// interface the planner and page cache dispatch through, the built-in
// property set, and the extension point for declaring new properties
// without touching the walker, accumulator or planner.
package props

import (
	"errors"
	"fmt"

	"github.com/wikitools/wikiquery/pkg/query"
)

// ErrUnimplemented is returned when a property definition lacks a
// concrete extraction function.
var ErrUnimplemented = errors.New("extraction not implemented")

// MissingFieldError reports an accumulated mapping without the field an
// extractor expected; the remote response had an unexpected shape.
type MissingFieldError struct {
	Property string
	Field    string
}

// Error implements the error interface.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("property %s: field %q missing from query result", e.Property, e.Field)
}

// Property describes one derivable page property. Implementations are
// immutable once declared.
type Property interface {
	// Name keys the property's slot in the page cache.
	Name() string

	// QueryParams returns the property's request parameters for the given
	// page, including the page's identity parameter and any call-time
	// options layered onto the base template.
	QueryParams(page query.PageRef) query.Params

	// Extract shapes the property's final value from the accumulated
	// output of its query group.
	Extract(grouped query.Grouped) (any, error)
}

// Base carries a property's name and base parameter template and handles
// the identity parameter. Embedders override Extract.
type Base struct {
	PropName string
	Template query.Params
}

// Name returns the property name.
func (b Base) Name() string { return b.PropName }

// QueryParams copies the template and attaches the page's identity
// parameter.
func (b Base) QueryParams(page query.PageRef) query.Params {
	params := b.Template.Copy()
	for name, value := range page.IdentityParams() {
		params[name] = value
	}
	return params
}

// Extract is the defensive guard for definitions without an extractor.
func (b Base) Extract(query.Grouped) (any, error) {
	return nil, fmt.Errorf("property %s: %w", b.PropName, ErrUnimplemented)
}

// Definition declares a custom property from its parts. It is the
// registration surface for callers extending the built-in set.
type Definition struct {
	// PropName keys the property in the page cache.
	PropName string

	// Template is the base parameter set, before identity and options.
	Template query.Params

	// Options, when set, layers call-time tuning onto the parameter copy
	// before the group is planned.
	Options func(params query.Params)

	// Extractor shapes the final value from the group's accumulated
	// output.
	Extractor func(grouped query.Grouped) (any, error)
}

// Name returns the property name.
func (d Definition) Name() string { return d.PropName }

// QueryParams builds the property's parameters for one page.
func (d Definition) QueryParams(page query.PageRef) query.Params {
	params := d.Template.Copy()
	for name, value := range page.IdentityParams() {
		params[name] = value
	}
	if d.Options != nil {
		d.Options(params)
	}
	return params
}

// Extract runs the extractor, or fails with ErrUnimplemented when the
// definition has none.
func (d Definition) Extract(grouped query.Grouped) (any, error) {
	if d.Extractor == nil {
		return nil, fmt.Errorf("property %s: %w", d.PropName, ErrUnimplemented)
	}
	return d.Extractor(grouped)
}
