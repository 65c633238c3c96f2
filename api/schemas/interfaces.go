package schemas

import (
	"context"
	"sort"
)

// -- Document Tree Interface --

// Element is the capability the extraction layer needs from a parsed document
// tree node. Paths are relative ("./v3:code/v3:translation") and resolve their
// prefixes against the namespace bindings the tree was opened with.
type Element interface {
	// Tag returns the local name of the element.
	Tag() string
	// Attr returns the attribute value, or def when the attribute is absent.
	Attr(name, def string) string
	// Find returns the first descendant matching the relative path.
	Find(path string) (Element, bool)
	// FindAll returns every match in document order, possibly none.
	FindAll(path string) []Element
	// Text returns the character data directly under the element.
	Text() string
}

// -- Extraction Contract --

// NodeExtractor builds graph nodes from document fragments.
//
// A nil element means "no such element" and yields nil, never an error. A
// present element with few attributes still yields a node whose missing
// fields hold empty strings or zero values. Every node is stamped with the
// provenance the implementation was constructed with.
type NodeExtractor interface {
	BuildCodeNode(code Element) *Node
	BuildTranslationCodeNode(translation Element) *Node
	BuildContactNode(telecom Element) *Node
	BuildNameNode(name Element) *Node
	BuildAddressNode(addr Element) *Node
	BuildIdentifierNode(id Element) *Node
	BuildEffectiveTime(effectiveTime Element) *EffectiveTime
	// Provenance returns the session metadata stamped on every built node.
	Provenance() Provenance
}

// -- Graph Access --

// IDSet is an unordered set of canonical or vertex identifiers.
type IDSet map[string]struct{}

// Has reports whether id is a member of the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order, which is useful for stable
// output since map iteration order is random.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GraphReader is the read side of a document graph handed to exporters.
type GraphReader interface {
	// Nodes returns every node ordered by canonical id.
	Nodes() []Node
	// VertexInfos returns every relationship detail ordered by vertex id.
	VertexInfos() []VertexInfo
	GetVertices(node Node) IDSet
	GetNodeVertexInfo(node Node) IDSet
	GetVertexInfo(vertexID string) (VertexInfo, bool)
	FindVertexInfo(source, destination Node) (VertexInfo, bool)
}

// -- Export Interfaces --

// GraphExporter persists or serializes a completed document graph.
type GraphExporter interface {
	ExportGraph(ctx context.Context, graph GraphReader) error
}
