package props

import (
	"sort"
	"strconv"

	"github.com/wikitools/wikiquery/pkg/query"
)

// Property names of the built-in set.
const (
	NameContent       = "content"
	NameSummary       = "summary"
	NameImages        = "images"
	NameExternalLinks = "external_links"
)

type contentProp struct{ Base }

// NewContent returns the full plain-text body property (prop=extracts).
func NewContent() Property {
	return contentProp{Base{
		PropName: NameContent,
		Template: query.Params{
			"prop":        "extracts",
			"explaintext": "",
		},
	}}
}

func (p contentProp) Extract(grouped query.Grouped) (any, error) {
	return firstString(grouped, p.PropName, "extract")
}

// SummaryOptions bounds the summary extract. Sentences beats Chars when
// both are set; with neither, the request asks for the intro section only.
type SummaryOptions struct {
	// Sentences limits the extract to N sentences, clamped to [1, 10].
	Sentences int

	// Chars limits the extract to N characters, clamped to >= 1.
	Chars int
}

type summaryProp struct {
	Base
	opts SummaryOptions
}

// NewSummary returns the bounded plain-text summary property.
func NewSummary(opts SummaryOptions) Property {
	return summaryProp{
		Base: Base{
			PropName: NameSummary,
			Template: query.Params{
				"prop":        "extracts",
				"explaintext": "",
			},
		},
		opts: opts,
	}
}

func (p summaryProp) QueryParams(page query.PageRef) query.Params {
	params := p.Base.QueryParams(page)
	switch {
	case p.opts.Sentences > 0:
		sentences := p.opts.Sentences
		if sentences > 10 {
			sentences = 10
		}
		params["exsentences"] = strconv.Itoa(sentences)
	case p.opts.Chars != 0:
		chars := p.opts.Chars
		if chars < 1 {
			chars = 1
		}
		params["exchars"] = strconv.Itoa(chars)
	default:
		params["exintro"] = ""
	}
	return params
}

func (p summaryProp) Extract(grouped query.Grouped) (any, error) {
	return firstString(grouped, p.PropName, "extract")
}

type imagesProp struct{ Base }

// NewImages returns the image URL list property. It rides a generator
// query, so the planner always gives it a dedicated group.
func NewImages() Property {
	return imagesProp{Base{
		PropName: NameImages,
		Template: query.Params{
			"generator": "images",
			"gimlimit":  query.Max,
			"prop":      "imageinfo",
			"iiprop":    "url",
		},
	}}
}

func (p imagesProp) Extract(grouped query.Grouped) (any, error) {
	urls := []string{}
	for _, item := range grouped["images"] {
		page, ok := item.(map[string]any)
		if !ok {
			continue
		}
		infos, ok := page["imageinfo"].([]any)
		if !ok || len(infos) == 0 {
			continue
		}
		info, ok := infos[0].(map[string]any)
		if !ok {
			continue
		}
		if url, ok := info["url"].(string); ok && url != "" {
			urls = append(urls, url)
		}
	}
	sort.Strings(urls)
	return urls, nil
}

type externalLinksProp struct{ Base }

// NewExternalLinks returns the external URL list property (prop=extlinks).
func NewExternalLinks() Property {
	return externalLinksProp{Base{
		PropName: NameExternalLinks,
		Template: query.Params{
			"prop":    "extlinks",
			"ellimit": query.Max,
		},
	}}
}

func (p externalLinksProp) Extract(grouped query.Grouped) (any, error) {
	links := []string{}
	for _, item := range grouped["extlinks"] {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if url, ok := entry["*"].(string); ok {
			links = append(links, url)
		}
	}
	sort.Strings(links)
	return links, nil
}

// firstString takes the first accumulated value under field as a string.
func firstString(grouped query.Grouped, property, field string) (any, error) {
	value, ok := grouped.First(field)
	if !ok {
		return nil, &MissingFieldError{Property: property, Field: field}
	}
	text, _ := value.(string)
	return text, nil
}
