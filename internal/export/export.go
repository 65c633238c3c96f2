// Package export serializes document graphs to files or streams.
package export

import (
	"context"
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/ccdagraph/api/schemas"
	"go.uber.org/zap"
)

// Output formats understood by the convert command.
const (
	FormatJSON     = "json"
	FormatPostgres = "postgres"
)

// Document is the JSON shape of an exported graph.
type Document struct {
	Nodes []NodeRecord `json:"nodes"`
	// Vertices is the symmetric adjacency index: canonical id to sorted
	// neighbor ids.
	Vertices   map[string][]string  `json:"vertices"`
	VertexInfo []schemas.VertexInfo `json:"vertex_info"`
}

// NodeRecord flattens a node into its provenance columns and property map.
type NodeRecord struct {
	schemas.Provenance
	CanonicalID string           `json:"canonical_id"`
	Kind        schemas.NodeKind `json:"kind"`
	Properties  map[string]any   `json:"properties"`
}

// NewDocument snapshots graph into its exported form.
func NewDocument(graph schemas.GraphReader) Document {
	nodes := graph.Nodes()
	doc := Document{
		Nodes:      make([]NodeRecord, 0, len(nodes)),
		Vertices:   make(map[string][]string, len(nodes)),
		VertexInfo: graph.VertexInfos(),
	}
	for _, n := range nodes {
		doc.Nodes = append(doc.Nodes, NodeRecord{
			Provenance:  n.Provenance,
			CanonicalID: n.CanonicalID,
			Kind:        n.Kind,
			Properties:  n.Properties(),
		})
		if neighbors := graph.GetVertices(n); len(neighbors) > 0 {
			doc.Vertices[n.CanonicalID] = neighbors.Sorted()
		}
	}
	if doc.VertexInfo == nil {
		doc.VertexInfo = []schemas.VertexInfo{}
	}
	return doc
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// JSONExporter writes a graph as a single JSON document.
type JSONExporter struct {
	w      io.WriteCloser
	pretty bool
	log    *zap.Logger
}

var _ schemas.GraphExporter = (*JSONExporter)(nil)

// NewJSONExporter writes to w. Close never closes w.
func NewJSONExporter(w io.Writer, pretty bool, logger *zap.Logger) *JSONExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONExporter{w: &nopWriteCloser{w}, pretty: pretty, log: logger.Named("export")}
}

// NewFileExporter creates the output file, or writes to stdout when path is
// empty or "stdout". The caller must Close the exporter.
func NewFileExporter(path string, pretty bool, logger *zap.Logger) (*JSONExporter, error) {
	if path == "" || path == "stdout" {
		return NewJSONExporter(os.Stdout, pretty, logger), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	e := NewJSONExporter(f, pretty, logger)
	e.w = f
	return e, nil
}

// ExportGraph encodes graph to the underlying writer.
func (e *JSONExporter) ExportGraph(ctx context.Context, graph schemas.GraphReader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := NewDocument(graph)

	data, err := e.marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}
	e.log.Info("Graph written", zap.Int("nodes", len(doc.Nodes)), zap.Int("relationships", len(doc.VertexInfo)))
	return nil
}

func (e *JSONExporter) marshal(doc Document) ([]byte, error) {
	if e.pretty {
		return json.ConfigCompatibleWithStandardLibrary.MarshalIndent(doc, "", "  ")
	}
	return json.ConfigCompatibleWithStandardLibrary.Marshal(doc)
}

// Close releases the output file, if any.
func (e *JSONExporter) Close() error {
	return e.w.Close()
}
