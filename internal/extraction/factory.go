// Package extraction maps C-CDA element fragments to graph nodes.
package extraction

import (
	"strings"
	"time"

	"github.com/xkilldash9x/ccdagraph/api/schemas"
	"github.com/xkilldash9x/ccdagraph/internal/identity"
	"go.uber.org/zap"
)

// DefaultCountry is stamped on addresses that carry no country element.
const DefaultCountry = "US"

// NodeFactory is the production schemas.NodeExtractor. It is scoped to a
// single document: the provenance handed to New is copied onto every node.
type NodeFactory struct {
	provenance     schemas.Provenance
	ids            *identity.Scheme
	defaultCountry string
	location       *time.Location
	log            *zap.Logger
}

var _ schemas.NodeExtractor = (*NodeFactory)(nil)

// Option configures a NodeFactory.
type Option func(*NodeFactory)

// WithDefaultCountry overrides DefaultCountry. An empty value leaves the
// country blank when the document has none.
func WithDefaultCountry(country string) Option {
	return func(f *NodeFactory) { f.defaultCountry = country }
}

// WithLocation sets the zone used for timestamps without an explicit offset.
func WithLocation(loc *time.Location) Option {
	return func(f *NodeFactory) {
		if loc != nil {
			f.location = loc
		}
	}
}

// New creates a factory for one document session.
func New(provenance schemas.Provenance, ids *identity.Scheme, logger *zap.Logger, opts ...Option) *NodeFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = identity.NewScheme("")
	}
	f := &NodeFactory{
		provenance:     provenance,
		ids:            ids,
		defaultCountry: DefaultCountry,
		location:       time.UTC,
		log:            logger.Named("NodeFactory"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Provenance returns the session metadata stamped on every node.
func (f *NodeFactory) Provenance() schemas.Provenance { return f.provenance }

// Identity returns the key scheme the factory mints ids with.
func (f *NodeFactory) Identity() *identity.Scheme { return f.ids }

// BuildCodeNode creates a Code node from a coded element or value.
func (f *NodeFactory) BuildCodeNode(code schemas.Element) *schemas.Node {
	if code == nil {
		return nil
	}
	return f.codeNode(code)
}

// BuildTranslationCodeNode creates a Code node for a translation element.
// Translations carry the same attributes as the code they translate.
func (f *NodeFactory) BuildTranslationCodeNode(translation schemas.Element) *schemas.Node {
	if translation == nil {
		return nil
	}
	return f.codeNode(translation)
}

func (f *NodeFactory) codeNode(el schemas.Element) *schemas.Node {
	attrs := schemas.CodeAttrs{
		Code:              el.Attr("code", ""),
		CodeSystem:        el.Attr("codeSystem", ""),
		CodeSystemName:    el.Attr("codeSystemName", ""),
		CodeSystemVersion: el.Attr("codeSystemVersion", ""),
		DisplayName:       el.Attr("displayName", ""),
	}
	n := schemas.NewCodeNode(f.provenance, identity.Code(attrs.CodeSystem, attrs.Code), attrs)
	return &n
}

// BuildContactNode creates a Contact node from a telecom element.
func (f *NodeFactory) BuildContactNode(telecom schemas.Element) *schemas.Node {
	if telecom == nil {
		return nil
	}
	attrs := schemas.ContactAttrs{
		Use:   telecom.Attr("use", ""),
		Value: telecom.Attr("value", ""),
	}
	n := schemas.NewContactNode(f.provenance, f.ids.Contact(attrs.Value), attrs)
	return &n
}

// BuildNameNode creates a Name node from a person name element.
func (f *NodeFactory) BuildNameNode(name schemas.Element) *schemas.Node {
	if name == nil {
		return nil
	}
	attrs := schemas.NameAttrs{
		TypeCode:   name.Attr("use", ""),
		GivenName:  joinTexts(name.FindAll("./v3:given"), " "),
		FamilyName: childText(name, "./v3:family"),
		Prefix:     joinTexts(name.FindAll("./v3:prefix"), " "),
		Suffix:     joinTexts(name.FindAll("./v3:suffix"), " "),
	}
	if low, ok := name.Find("./v3:validTime/v3:low"); ok {
		attrs.ValidStartDate = f.optionalTime(low)
	}
	if high, ok := name.Find("./v3:validTime/v3:high"); ok {
		attrs.ValidEndDate = f.optionalTime(high)
	}
	n := schemas.NewNameNode(f.provenance, f.ids.PersonName(attrs.GivenName, attrs.FamilyName, attrs.Suffix), attrs)
	return &n
}

// BuildAddressNode creates an Address node. Addresses have no natural key, so
// every call mints a new synthetic id.
func (f *NodeFactory) BuildAddressNode(addr schemas.Element) *schemas.Node {
	if addr == nil {
		return nil
	}
	attrs := schemas.AddressAttrs{
		Use:               addr.Attr("use", ""),
		Type:              addr.Attr("type", ""),
		StreetAddressLine: joinTexts(addr.FindAll("./v3:streetAddressLine"), "\n"),
		City:              childText(addr, "./v3:city"),
		State:             childText(addr, "./v3:state"),
		County:            childText(addr, "./v3:county"),
		Country:           childText(addr, "./v3:country"),
		PostalCode:        childText(addr, "./v3:postalCode"),
	}
	if attrs.Country == "" {
		attrs.Country = f.defaultCountry
	}
	n := schemas.NewAddressNode(f.provenance, f.ids.Synthetic(), attrs)
	return &n
}

// BuildIdentifierNode creates an Identifier node from an II element.
func (f *NodeFactory) BuildIdentifierNode(id schemas.Element) *schemas.Node {
	if id == nil {
		return nil
	}
	attrs := schemas.IdentifierAttrs{
		Root:            id.Attr("root", ""),
		Extension:       id.Attr("extension", ""),
		AssignAuthority: id.Attr("assigningAuthorityName", ""),
	}
	n := schemas.NewIdentifierNode(f.provenance, identity.Identifier(attrs.Root, attrs.Extension), attrs)
	return &n
}

// BuildEffectiveTime reads an IVL_TS. A point value sets both bounds; low and
// high children set the respective bound. Missing or unparsable bounds stay
// zero.
func (f *NodeFactory) BuildEffectiveTime(effectiveTime schemas.Element) *schemas.EffectiveTime {
	if effectiveTime == nil {
		return nil
	}
	var et schemas.EffectiveTime
	if v := effectiveTime.Attr("value", ""); v != "" {
		et.Start = f.parseTime(v)
		et.End = et.Start
	}
	if low, ok := effectiveTime.Find("./v3:low"); ok {
		et.Start = f.parseTime(low.Attr("value", ""))
	}
	if high, ok := effectiveTime.Find("./v3:high"); ok {
		et.End = f.parseTime(high.Attr("value", ""))
	}
	return &et
}

// parseTime returns the zero time for empty or malformed values.
func (f *NodeFactory) parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := ParseTimestamp(value, f.location)
	if err != nil {
		f.log.Debug("Ignoring unparsable timestamp", zap.String("value", value), zap.Error(err))
		return time.Time{}
	}
	return t
}

func (f *NodeFactory) optionalTime(el schemas.Element) *time.Time {
	t := f.parseTime(el.Attr("value", ""))
	if t.IsZero() {
		return nil
	}
	return &t
}

func childText(el schemas.Element, path string) string {
	if child, ok := el.Find(path); ok {
		return child.Text()
	}
	return ""
}

func joinTexts(els []schemas.Element, sep string) string {
	parts := make([]string, 0, len(els))
	for _, el := range els {
		if text := el.Text(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, sep)
}
