package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/ccdagraph/api/schemas"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store exports document graphs to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.GraphExporter = (*Store)(nil)

// ErrGraphMismatch is returned by VerifyGraph when stored relationships do not
// cover the exported graph.
var ErrGraphMismatch = errors.New("stored graph does not match exported graph")

const (
	sqlCreateNodes = `
        CREATE TABLE IF NOT EXISTS ccda_nodes (
            canonical_id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            doc_id INTEGER NOT NULL,
            doc_source_id TEXT NOT NULL,
            etl_dg_code INTEGER NOT NULL,
            etl_load_datetime TIMESTAMPTZ,
            etl_src_inc_datetime TIMESTAMPTZ,
            etl_src_sys_id INTEGER NOT NULL,
            properties JSONB NOT NULL DEFAULT '{}',
            last_seen TIMESTAMPTZ NOT NULL
        );
    `
	sqlCreateVertices = `
        CREATE TABLE IF NOT EXISTS ccda_vertices (
            vertex_id TEXT PRIMARY KEY,
            source_node TEXT NOT NULL,
            destination_node TEXT NOT NULL,
            field_name TEXT NOT NULL,
            meta JSONB NOT NULL DEFAULT '{}',
            last_seen TIMESTAMPTZ NOT NULL
        );
    `
	sqlIndexVertices = `
        CREATE INDEX IF NOT EXISTS ccda_vertices_source_idx ON ccda_vertices (source_node);
    `

	sqlUpsertNode = `
        INSERT INTO ccda_nodes (canonical_id, kind, doc_id, doc_source_id, etl_dg_code, etl_load_datetime, etl_src_inc_datetime, etl_src_sys_id, properties, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (canonical_id) DO UPDATE SET
            kind = EXCLUDED.kind,
            doc_id = EXCLUDED.doc_id,
            doc_source_id = EXCLUDED.doc_source_id,
            etl_dg_code = EXCLUDED.etl_dg_code,
            etl_load_datetime = EXCLUDED.etl_load_datetime,
            etl_src_inc_datetime = EXCLUDED.etl_src_inc_datetime,
            etl_src_sys_id = EXCLUDED.etl_src_sys_id,
            properties = EXCLUDED.properties,
            last_seen = EXCLUDED.last_seen;
    `
	sqlUpsertVertex = `
        INSERT INTO ccda_vertices (vertex_id, source_node, destination_node, field_name, meta, last_seen)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (vertex_id) DO UPDATE SET
            source_node = EXCLUDED.source_node,
            destination_node = EXCLUDED.destination_node,
            field_name = EXCLUDED.field_name,
            meta = EXCLUDED.meta,
            last_seen = EXCLUDED.last_seen;
    `
	sqlSelectRelationships = `
        SELECT vertex_id, source_node, destination_node, field_name, meta
        FROM ccda_vertices
        WHERE source_node = $1 OR destination_node = $1
        ORDER BY vertex_id ASC;
    `
)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the node and vertex tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateNodes, sqlCreateVertices, sqlIndexVertices} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// ExportGraph upserts every node and relationship detail of graph in a single
// transaction. Adjacency without relationship detail is not persisted.
func (s *Store) ExportGraph(ctx context.Context, graph schemas.GraphReader) error {
	nodes := graph.Nodes()
	infos := graph.VertexInfos()
	if len(nodes) == 0 && len(infos) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistGraph(ctx, tx, nodes, infos); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Graph exported", zap.Int("nodes", len(nodes)), zap.Int("relationships", len(infos)))
	return nil
}

func (s *Store) persistGraph(ctx context.Context, tx pgx.Tx, nodes []schemas.Node, infos []schemas.VertexInfo) error {
	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for _, n := range nodes {
		props, err := encodeJSON(n.Properties())
		if err != nil {
			return fmt.Errorf("failed to encode properties for node %s: %w", n.CanonicalID, err)
		}
		batch.Queue(sqlUpsertNode,
			n.CanonicalID, string(n.Kind),
			n.DocID, n.DocSourceID, n.EtlDGCode,
			nullableTime(n.EtlLoadDatetime), nullableTime(n.EtlSrcIncDatetime),
			n.EtlSrcSysID, props, now)
	}

	for _, v := range infos {
		meta, err := encodeJSON(v.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode meta for vertex %s: %w", v.VertexID, err)
		}
		batch.Queue(sqlUpsertVertex, v.VertexID, v.SourceNode, v.DestinationNode, v.FieldName, meta, now)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	// Results must be drained in queue order.
	for i := 0; i < len(nodes)+len(infos); i++ {
		if _, err := br.Exec(); err != nil {
			if i < len(nodes) {
				return fmt.Errorf("failed to upsert node %s (index %d): %w", nodes[i].CanonicalID, i, err)
			}
			vi := i - len(nodes)
			return fmt.Errorf("failed to upsert vertex %s (index %d): %w", infos[vi].VertexID, vi, err)
		}
	}
	return nil
}

// GetRelationships returns the persisted relationship details touching the
// node, in either direction.
func (s *Store) GetRelationships(ctx context.Context, canonicalID string) ([]schemas.VertexInfo, error) {
	rows, err := s.pool.Query(ctx, sqlSelectRelationships, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var infos []schemas.VertexInfo
	for rows.Next() {
		var v schemas.VertexInfo
		var meta []byte
		if err := rows.Scan(&v.VertexID, &v.SourceNode, &v.DestinationNode, &v.FieldName, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan relationship row: %w", err)
		}
		if len(meta) > 0 && string(meta) != "{}" && string(meta) != "null" {
			if err := json.Unmarshal(meta, &v.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode meta for vertex %s: %w", v.VertexID, err)
			}
		}
		infos = append(infos, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return infos, nil
}

// VerifyGraph reads back the relationship details of every node in graph and
// reports ErrGraphMismatch when one the graph holds is missing from the
// store. Rows written by other documents for shared nodes are ignored.
func (s *Store) VerifyGraph(ctx context.Context, graph schemas.GraphReader) error {
	checked := 0
	for _, node := range graph.Nodes() {
		expected := graph.GetNodeVertexInfo(node)
		if len(expected) == 0 {
			continue
		}
		stored, err := s.GetRelationships(ctx, node.CanonicalID)
		if err != nil {
			return err
		}
		found := make(schemas.IDSet, len(stored))
		for _, v := range stored {
			found[v.VertexID] = struct{}{}
		}
		for _, vid := range expected.Sorted() {
			if !found.Has(vid) {
				return fmt.Errorf("%w: vertex %s of node %s", ErrGraphMismatch, vid, node.CanonicalID)
			}
		}
		checked++
	}
	s.log.Info("Graph verified", zap.Int("nodes_checked", checked))
	return nil
}

// encodeJSON renders v for a JSONB column. Empty maps become "{}" so the
// column never holds SQL NULL or JSON null.
func encodeJSON(v map[string]any) (string, error) {
	if len(v) == 0 {
		return "{}", nil
	}
	b, err := json.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
