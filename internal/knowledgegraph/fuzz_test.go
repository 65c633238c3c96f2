// fuzz_test.go
// Contains Fuzz tests for the knowledgegraph package.
package knowledgegraph

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/xkilldash9x/ccdagraph/api/schemas"
)

// fuzzEdge is the structure the fuzzer fills in for every generated operation.
type fuzzEdge struct {
	Source      string
	Destination string
	Field       string
}

// FuzzNodeGraph_Invariants applies fuzzer-generated edges and checks the
// structural invariants of the container after every write.
func FuzzNodeGraph_Invariants(f *testing.F) {
	f.Add([]byte("seed-source-destination-code"))
	f.Add([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06})

	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var edges []fuzzEdge
		if err := consumer.CreateSlice(&edges); err != nil {
			return
		}

		g := New(nil)
		for _, e := range edges {
			src := schemas.NewBaseNode(schemas.Provenance{}, e.Source)
			dst := schemas.NewBaseNode(schemas.Provenance{}, e.Destination)

			err := g.AddVertex(src, dst, e.Field)
			if e.Source == "" || e.Destination == "" {
				if err == nil {
					t.Fatalf("expected error for empty endpoint %+v", e)
				}
				continue
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Adjacency is symmetric.
			if !g.GetVertices(src).Has(dst.CanonicalID) || !g.GetVertices(dst).Has(src.CanonicalID) {
				t.Fatalf("adjacency not symmetric for %+v", e)
			}

			if e.Field == "" {
				continue
			}
			info, ok := g.GetVertexInfo(schemas.VertexID(src.CanonicalID, dst.CanonicalID))
			if !ok || info.FieldName != e.Field {
				t.Fatalf("latest relationship detail not stored for %+v: %+v", e, info)
			}
			if _, ok := g.FindVertexInfo(src, dst); !ok {
				t.Fatalf("relationship detail not discoverable from source for %+v", e)
			}
		}

		// Every indexed vertex id refers to stored detail. The detail may belong
		// to another pair when ids containing "_" concatenate to the same key.
		for _, n := range g.Nodes() {
			for vid := range g.GetNodeVertexInfo(n) {
				if _, ok := g.GetVertexInfo(vid); !ok {
					t.Fatalf("dangling vertex id %q on node %q", vid, n.CanonicalID)
				}
			}
		}
	})
}
