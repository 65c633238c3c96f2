// Package document adapts a parsed XML tree to the schemas.Element capability
// used by the extraction layer.
package document

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/xkilldash9x/ccdagraph/api/schemas"
)

// Namespaces maps a path prefix to the namespace URI it stands for.
type Namespaces map[string]string

// DefaultNamespaces are the bindings used for C-CDA documents.
func DefaultNamespaces() Namespaces {
	return Namespaces{
		"v3":   "urn:hl7-org:v3",
		"voc":  "urn:hl7-org:v3/voc",
		"sdtc": "urn:hl7-org:sdtc",
		"xsi":  "http://www.w3.org/2001/XMLSchema-instance",
	}
}

// ErrNoRoot is returned for input that parses but holds no root element.
var ErrNoRoot = errors.New("document has no root element")

// Element wraps an etree element together with the namespace bindings used to
// resolve path prefixes.
type Element struct {
	el *etree.Element
	ns Namespaces
}

var _ schemas.Element = (*Element)(nil)

// Parse reads an XML document from data and returns its root element.
func Parse(data []byte, ns Namespaces) (*Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML document: %w", err)
	}
	return rootOf(doc, ns)
}

// Open reads an XML document from a file and returns its root element.
func Open(path string, ns Namespaces) (*Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("failed to read XML document '%s': %w", path, err)
	}
	return rootOf(doc, ns)
}

func rootOf(doc *etree.Document, ns Namespaces) (*Element, error) {
	root := doc.Root()
	if root == nil {
		return nil, ErrNoRoot
	}
	if ns == nil {
		ns = DefaultNamespaces()
	}
	return &Element{el: root, ns: ns}, nil
}

// Tag returns the local name of the element.
func (e *Element) Tag() string { return e.el.Tag }

// Attr returns the attribute value for name ("code" or "xsi:type"), or def.
func (e *Element) Attr(name, def string) string {
	if attr := e.el.SelectAttr(name); attr != nil {
		return attr.Value
	}
	return def
}

// Text returns the element's character data with surrounding whitespace removed.
func (e *Element) Text() string {
	return strings.TrimSpace(e.el.Text())
}

// Find returns the first element matching path.
func (e *Element) Find(path string) (schemas.Element, bool) {
	matches := e.match(path, true)
	if len(matches) == 0 {
		// Untyped nil so callers can compare against nil.
		return nil, false
	}
	return matches[0], true
}

// FindAll returns every element matching path in document order.
func (e *Element) FindAll(path string) []schemas.Element {
	matches := e.match(path, false)
	out := make([]schemas.Element, len(matches))
	for i, m := range matches {
		out[i] = m
	}
	return out
}

// step is one "prefix:local" segment of a relative path.
type step struct {
	uri   string
	local string
	any   bool
}

// match walks the relative path one child step at a time. Supported syntax is
// a "./"-prefixed or bare sequence of "prefix:tag", "tag" or "*" segments; an
// unprefixed tag only matches elements outside any namespace.
func (e *Element) match(path string, firstOnly bool) []*Element {
	steps, ok := e.compile(path)
	if !ok {
		return nil
	}

	current := []*etree.Element{e.el}
	for i, s := range steps {
		last := i == len(steps)-1
		var next []*etree.Element
		for _, parent := range current {
			for _, child := range parent.ChildElements() {
				if !s.matches(child) {
					continue
				}
				next = append(next, child)
				if last && firstOnly {
					return []*Element{{el: child, ns: e.ns}}
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}

	out := make([]*Element, len(current))
	for i, c := range current {
		out[i] = &Element{el: c, ns: e.ns}
	}
	return out
}

func (e *Element) compile(path string) ([]step, bool) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "./")
	if path == "" || path == "." {
		return nil, false
	}

	var steps []step
	for _, seg := range strings.Split(path, "/") {
		switch {
		case seg == "" || seg == ".":
			continue
		case seg == "*":
			steps = append(steps, step{any: true})
		default:
			prefix, local, hasPrefix := strings.Cut(seg, ":")
			if !hasPrefix {
				steps = append(steps, step{local: seg})
				continue
			}
			uri, bound := e.ns[prefix]
			if !bound {
				return nil, false
			}
			steps = append(steps, step{uri: uri, local: local})
		}
	}
	return steps, len(steps) > 0
}

func (s step) matches(el *etree.Element) bool {
	if s.any {
		return true
	}
	return el.Tag == s.local && el.NamespaceURI() == s.uri
}
