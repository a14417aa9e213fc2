// Package recipe loads an application's declared AWM menu from an XML
// recipe document, the one concrete adapter for the recipe loader
// collaborator of the RTLib client boundary. No XML library appears
// anywhere in the retrieved pack, so this reaches for the stdlib
// encoding/xml package - the idiomatic choice absent a third-party
// alternative (see DESIGN.md).
package recipe

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cuemby/bbque/pkg/awm"
)

// Sentinel errors for the recipe-level failure kinds, wrapped into the
// error Load returns alongside its LoadResult.
var (
	ErrFormatError = errors.New("recipe: malformed recipe document")
	ErrWeakLoad    = errors.New("recipe: some resource templates could not be resolved on this platform")
)

// LoadResult is the outcome of Load.
type LoadResult int

const (
	Ok LoadResult = iota
	NotFound
	FormatError
	WeakLoad
)

func (r LoadResult) String() string {
	switch r {
	case Ok:
		return "ok"
	case NotFound:
		return "not_found"
	case FormatError:
		return "format_error"
	case WeakLoad:
		return "weak_load"
	default:
		return "unknown"
	}
}

// document is the XML shape of a "<appname>.recipe" file.
type document struct {
	XMLName xml.Name   `xml:"recipe"`
	AWMs    []xmlAWM   `xml:"awm"`
	Plugins []xmlPlugin `xml:"plugin_data"`
}

type xmlAWM struct {
	ID       uint8       `xml:"id,attr"`
	Value    float64     `xml:"value,attr"`
	Requests []xmlRequest `xml:"request"`
}

type xmlRequest struct {
	Template string `xml:"resource,attr"`
	Amount   string `xml:"amount,attr"`
}

type xmlPlugin struct {
	Name  string    `xml:"name,attr"`
	Pairs []xmlPair `xml:"entry"`
}

type xmlPair struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// Recipe is the parsed, resolved form of a recipe document: a ready-to-
// register AWM menu plus any plugin-data sections, namespaced by
// plugin name.
type Recipe struct {
	Menu    []*awm.AWM
	Plugins map[string]map[string]string
}

// Load reads and parses the recipe file at path for application app.
// WeakLoad is returned (with the partially-resolved Recipe, and an
// error wrapping ErrWeakLoad) when the document parses but at least one
// resource amount is not an integer with an optional K/M/G suffix; each
// such request is dropped from its AWM.
func Load(app, path string) (Recipe, LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Recipe{}, NotFound, fmt.Errorf("recipe: %s: %w", app, err)
		}
		return Recipe{}, FormatError, fmt.Errorf("recipe: read %s: %w", app, err)
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Recipe{}, FormatError, fmt.Errorf("recipe: parse %s: %w: %w", app, ErrFormatError, err)
	}

	weak := false
	menu := make([]*awm.AWM, 0, len(doc.AWMs))
	for _, x := range doc.AWMs {
		reqs := make([]awm.Request, 0, len(x.Requests))
		for _, r := range x.Requests {
			amount, ok := parseAmount(r.Amount)
			if !ok {
				weak = true
				continue
			}
			reqs = append(reqs, awm.Request{Template: r.Template, Amount: amount})
		}
		menu = append(menu, awm.New(x.ID, x.Value, reqs))
	}

	plugins := make(map[string]map[string]string, len(doc.Plugins))
	for _, pl := range doc.Plugins {
		entries := make(map[string]string, len(pl.Pairs))
		for _, p := range pl.Pairs {
			entries[p.Key] = strings.TrimSpace(p.Value)
		}
		plugins[pl.Name] = entries
	}

	if weak {
		return Recipe{Menu: menu, Plugins: plugins}, WeakLoad, fmt.Errorf("%w: %s", ErrWeakLoad, app)
	}
	return Recipe{Menu: menu, Plugins: plugins}, Ok, nil
}

// parseAmount parses a resource amount with an optional K/M/G suffix
// into a platform-independent integer.
func parseAmount(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	mult := uint64(1)
	suffix := s[len(s)-1]
	switch suffix {
	case 'K', 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n * mult, true
}
