package knowledgegraph

import (
	"errors"
	"sort"
	"sync"

	"github.com/xkilldash9x/ccdagraph/api/schemas"
	"go.uber.org/zap"
)

// ErrEmptyCanonicalID is returned when a node without identity is inserted.
var ErrEmptyCanonicalID = errors.New("node has an empty canonical id")

// NodeGraph is the in-memory graph built for one document-processing session.
//
// It only grows: nodes overwrite by canonical id, relationship detail
// overwrites by vertex id, and nothing is ever removed. All four indexes are
// guarded by one lock because AddVertexWithInfo must update three of them as a
// unit.
type NodeGraph struct {
	nodes          map[string]schemas.Node       // canonical id -> node
	vertices       map[string]schemas.IDSet      // canonical id -> adjacent canonical ids (symmetric)
	vertexInfo     map[string]schemas.VertexInfo // vertex id -> detail
	nodeVertexInfo map[string]schemas.IDSet      // canonical id -> incident vertex ids
	mu             sync.RWMutex
	log            *zap.Logger
}

// Ensures NodeGraph satisfies the exporter-facing read interface at compile time.
var _ schemas.GraphReader = (*NodeGraph)(nil)

// New creates an empty graph.
func New(logger *zap.Logger) *NodeGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NodeGraph{
		nodes:          make(map[string]schemas.Node),
		vertices:       make(map[string]schemas.IDSet),
		vertexInfo:     make(map[string]schemas.VertexInfo),
		nodeVertexInfo: make(map[string]schemas.IDSet),
		log:            logger.Named("NodeGraph"),
	}
}

// AddNode inserts the node, silently replacing any node with the same id.
func (g *NodeGraph) AddNode(node schemas.Node) error {
	if node.CanonicalID == "" {
		return ErrEmptyCanonicalID
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.putNode(node)
	return nil
}

// AddVertex registers an undirected adjacency between source and destination,
// upserting both nodes. A non-empty fieldName additionally records the
// directed relationship detail source -> destination.
func (g *NodeGraph) AddVertex(source, destination schemas.Node, fieldName string) error {
	if fieldName != "" {
		return g.AddVertexWithInfo(source, destination, ptr(schemas.NewVertexInfo(source, destination, fieldName, nil)))
	}
	if err := validateEndpoints(source, destination); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.link(source, destination)
	return nil
}

// AddVertexWithInfo registers adjacency and stores info under its vertex id,
// indexing it at both endpoints. A nil info only registers adjacency.
func (g *NodeGraph) AddVertexWithInfo(source, destination schemas.Node, info *schemas.VertexInfo) error {
	if err := validateEndpoints(source, destination); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.link(source, destination)
	if info == nil {
		return nil
	}

	if prev, exists := g.vertexInfo[info.VertexID]; exists && prev.FieldName != info.FieldName {
		g.log.Debug("Relationship detail replaced by a different field on the same endpoint pair",
			zap.String("vertex_id", info.VertexID),
			zap.String("previous_field", prev.FieldName),
			zap.String("field", info.FieldName))
	}
	g.vertexInfo[info.VertexID] = *info
	addToSet(g.nodeVertexInfo, source.CanonicalID, info.VertexID)
	addToSet(g.nodeVertexInfo, destination.CanonicalID, info.VertexID)
	return nil
}

// GetNode retrieves a node by canonical id.
func (g *NodeGraph) GetNode(canonicalID string) (schemas.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	node, ok := g.nodes[canonicalID]
	return node, ok
}

// GetVertices returns a copy of the ids adjacent to node. Unknown nodes yield
// an empty set.
func (g *NodeGraph) GetVertices(node schemas.Node) schemas.IDSet {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return copySet(g.vertices[node.CanonicalID])
}

// GetNodeVertexInfo returns a copy of the vertex ids incident to node. Unknown
// nodes yield an empty set.
func (g *NodeGraph) GetNodeVertexInfo(node schemas.Node) schemas.IDSet {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return copySet(g.nodeVertexInfo[node.CanonicalID])
}

// GetVertexInfo looks up relationship detail by vertex id.
func (g *NodeGraph) GetVertexInfo(vertexID string) (schemas.VertexInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	info, ok := g.vertexInfo[vertexID]
	return info, ok
}

// FindVertexInfo scans the relationship detail incident to source for one
// pointing at destination. The cost is linear in the degree of source. When
// several match, which one is returned is unspecified.
func (g *NodeGraph) FindVertexInfo(source, destination schemas.Node) (schemas.VertexInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for vertexID := range g.nodeVertexInfo[source.CanonicalID] {
		info, ok := g.vertexInfo[vertexID]
		if ok && info.DestinationNode == destination.CanonicalID {
			return info, true
		}
	}
	return schemas.VertexInfo{}, false
}

// Nodes returns a snapshot of every node ordered by canonical id.
func (g *NodeGraph) Nodes() []schemas.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]schemas.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out
}

// VertexInfos returns a snapshot of every relationship detail ordered by vertex id.
func (g *NodeGraph) VertexInfos() []schemas.VertexInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]schemas.VertexInfo, 0, len(g.vertexInfo))
	for _, v := range g.vertexInfo {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VertexID < out[j].VertexID })
	return out
}

// NodeCount returns the number of distinct canonical ids in the graph.
func (g *NodeGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Merge folds other into g as if other's writes had happened after g's: nodes
// and relationship detail from other overwrite on key collision, adjacency and
// incidence sets are unioned. other is not modified.
func (g *NodeGraph) Merge(other *NodeGraph) {
	if other == nil || other == g {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, n := range other.nodes {
		g.nodes[id] = n
	}
	for id, adj := range other.vertices {
		for peer := range adj {
			addToSet(g.vertices, id, peer)
		}
	}
	for vid, info := range other.vertexInfo {
		g.vertexInfo[vid] = info
	}
	for id, incident := range other.nodeVertexInfo {
		for vid := range incident {
			addToSet(g.nodeVertexInfo, id, vid)
		}
	}
	g.log.Debug("Merged graph", zap.Int("nodes", len(other.nodes)), zap.Int("vertex_info", len(other.vertexInfo)))
}

// -- internal helpers; callers hold the write lock --

func (g *NodeGraph) putNode(node schemas.Node) {
	if _, exists := g.nodes[node.CanonicalID]; exists {
		g.log.Debug("Node overwritten", zap.String("canonical_id", node.CanonicalID), zap.String("kind", string(node.Kind)))
	}
	g.nodes[node.CanonicalID] = node
}

func (g *NodeGraph) link(source, destination schemas.Node) {
	g.putNode(source)
	g.putNode(destination)
	addToSet(g.vertices, source.CanonicalID, destination.CanonicalID)
	addToSet(g.vertices, destination.CanonicalID, source.CanonicalID)
}

func validateEndpoints(source, destination schemas.Node) error {
	if source.CanonicalID == "" || destination.CanonicalID == "" {
		return ErrEmptyCanonicalID
	}
	return nil
}

func addToSet(index map[string]schemas.IDSet, key, member string) {
	set, ok := index[key]
	if !ok {
		set = make(schemas.IDSet)
		index[key] = set
	}
	set[member] = struct{}{}
}

func copySet(src schemas.IDSet) schemas.IDSet {
	out := make(schemas.IDSet, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out
}

func ptr[T any](v T) *T { return &v }
