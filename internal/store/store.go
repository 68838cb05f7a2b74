package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sameas-cli/internal/fault"
	"github.com/xkilldash9x/sameas-cli/internal/knowledgegraph"
	"github.com/xkilldash9x/sameas-cli/internal/rdf"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// copyThreshold is the insert size above which quads are staged with COPY
// instead of a statement batch.
const copyThreshold = 500

const (
	sqlSchema = `
        CREATE TABLE IF NOT EXISTS quads (
            graph_kind      SMALLINT NOT NULL,
            graph_iteration INTEGER  NOT NULL,
            graph_dataset   TEXT     NOT NULL DEFAULT '',
            subject_kind    SMALLINT NOT NULL,
            subject         TEXT     NOT NULL,
            predicate       TEXT     NOT NULL,
            object_kind     SMALLINT NOT NULL,
            object          TEXT     NOT NULL,
            object_datatype TEXT     NOT NULL DEFAULT '',
            object_lang     TEXT     NOT NULL DEFAULT '',
            PRIMARY KEY (graph_kind, graph_iteration, graph_dataset, subject_kind, subject, predicate, object_kind, object, object_datatype, object_lang)
        );
        CREATE INDEX IF NOT EXISTS quads_predicate_subject ON quads (predicate, subject);
        CREATE INDEX IF NOT EXISTS quads_predicate_object ON quads (predicate, object);
        CREATE TABLE IF NOT EXISTS runs (
            id          UUID PRIMARY KEY,
            started_at  TIMESTAMPTZ NOT NULL,
            finished_at TIMESTAMPTZ NOT NULL,
            iterations  INTEGER NOT NULL,
            targets     INTEGER NOT NULL,
            rotten      INTEGER NOT NULL,
            failures    INTEGER NOT NULL
        );
    `

	sqlInsertQuad = `
        INSERT INTO quads (graph_kind, graph_iteration, graph_dataset, subject_kind, subject, predicate, object_kind, object, object_datatype, object_lang)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT DO NOTHING;
    `

	sqlCreateStaging = `CREATE TEMP TABLE quads_staging (LIKE quads INCLUDING DEFAULTS) ON COMMIT DROP;`
	sqlMergeStaging  = `INSERT INTO quads SELECT * FROM quads_staging ON CONFLICT DO NOTHING;`

	sqlSelectQuads = `
        SELECT graph_kind, graph_iteration, graph_dataset, subject_kind, subject, predicate, object_kind, object, object_datatype, object_lang
        FROM quads`

	sqlReachable = `
        WITH RECURSIVE reach(node_kind, node) AS (
            SELECT $1::smallint, $2::text
          UNION
            SELECT
                CASE WHEN q.subject_kind = r.node_kind AND q.subject = r.node THEN q.object_kind ELSE q.subject_kind END,
                CASE WHEN q.subject_kind = r.node_kind AND q.subject = r.node THEN q.object ELSE q.subject END
            FROM quads q
            JOIN reach r
              ON (q.subject_kind = r.node_kind AND q.subject = r.node)
              OR (q.object_kind = r.node_kind AND q.object = r.node)
            WHERE q.predicate = $3
        )
        SELECT node_kind, node FROM reach
        WHERE NOT (node_kind = $1 AND node = $2)
        ORDER BY node_kind, node;
    `

	sqlInsertRun = `
        INSERT INTO runs (id, started_at, finished_at, iterations, targets, rotten, failures)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            finished_at = EXCLUDED.finished_at,
            iterations = EXCLUDED.iterations,
            targets = EXCLUDED.targets,
            rotten = EXCLUDED.rotten,
            failures = EXCLUDED.failures;
    `
)

var quadColumns = []string{
	"graph_kind", "graph_iteration", "graph_dataset",
	"subject_kind", "subject", "predicate",
	"object_kind", "object", "object_datatype", "object_lang",
}

// Store is the PostgreSQL implementation of knowledgegraph.Gateway.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ knowledgegraph.Gateway = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fault.WrapFatal(fmt.Errorf("%w: %v", fault.ErrStoreUnavailable, err), "store", "New", "ping database")
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a pgx pool for dsn and wraps it in a Store. The caller owns
// the returned pool and must close it.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fault.WrapFatal(err, "store", "Connect", "create pool")
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureSchema creates the tables and indexes the store needs.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlSchema); err != nil {
		return fault.WrapFatal(err, "store", "EnsureSchema", "create schema")
	}
	return nil
}

// Insert stores quads in one subgraph, inside a single transaction.
func (s *Store) Insert(ctx context.Context, graph knowledgegraph.GraphKey, quads ...rdf.Quad) error {
	if len(quads) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fault.WrapFatal(err, "store", "Insert", "begin transaction")
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if len(quads) > copyThreshold {
		err = s.copyQuads(ctx, tx, graph, quads)
	} else {
		err = s.batchQuads(ctx, tx, graph, quads)
	}
	if err != nil {
		return fault.WrapFatal(err, "store", "Insert", "write quads into "+graph.String())
	}

	if err := tx.Commit(ctx); err != nil {
		return fault.WrapFatal(err, "store", "Insert", "commit transaction")
	}
	return nil
}

func (s *Store) batchQuads(ctx context.Context, tx pgx.Tx, graph knowledgegraph.GraphKey, quads []rdf.Quad) error {
	batch := &pgx.Batch{}
	for _, q := range quads {
		batch.Queue(sqlInsertQuad, quadArgs(graph, q)...)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for i := range quads {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert quad %s (index %d): %w", quads[i], i, err)
		}
	}
	return nil
}

func (s *Store) copyQuads(ctx context.Context, tx pgx.Tx, graph knowledgegraph.GraphKey, quads []rdf.Quad) error {
	if _, err := tx.Exec(ctx, sqlCreateStaging); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}

	rows := make([][]any, len(quads))
	for i, q := range quads {
		rows[i] = quadArgs(graph, q)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"quads_staging"}, quadColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy quads: %w", err)
	}
	if int(n) != len(quads) {
		return fmt.Errorf("mismatch in copied quads count: expected %d, got %d", len(quads), n)
	}

	if _, err := tx.Exec(ctx, sqlMergeStaging); err != nil {
		return fmt.Errorf("failed to merge staged quads: %w", err)
	}
	return nil
}

// Delete removes every matching statement.
func (s *Store) Delete(ctx context.Context, pattern knowledgegraph.Pattern) (int64, error) {
	where, args := whereClause(pattern)
	tag, err := s.pool.Exec(ctx, "DELETE FROM quads"+where+";", args...)
	if err != nil {
		return 0, fault.WrapFatal(err, "store", "Delete", "delete quads")
	}
	return tag.RowsAffected(), nil
}

// Match returns every matching statement ordered by graph, subject, predicate and object.
func (s *Store) Match(ctx context.Context, pattern knowledgegraph.Pattern) ([]knowledgegraph.Statement, error) {
	where, args := whereClause(pattern)
	query := sqlSelectQuads + where + " ORDER BY graph_kind, graph_iteration, graph_dataset, subject_kind, subject, predicate, object_kind, object;"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fault.WrapFatal(err, "store", "Match", "query quads")
	}
	defer rows.Close()

	var out []knowledgegraph.Statement
	for rows.Next() {
		var (
			graphKind, subjectKind, objectKind int16
			iteration                          int32
			dataset, subject, predicate        string
			object, datatype, lang             string
		)
		if err := rows.Scan(&graphKind, &iteration, &dataset, &subjectKind, &subject, &predicate, &objectKind, &object, &datatype, &lang); err != nil {
			return nil, fault.WrapFatal(err, "store", "Match", "scan quad row")
		}
		out = append(out, knowledgegraph.Statement{
			Graph: knowledgegraph.GraphKey{Kind: knowledgegraph.GraphKind(graphKind), Iteration: int(iteration), Dataset: dataset},
			Quad: rdf.Quad{
				Subject:   rdf.Term{Kind: rdf.TermKind(subjectKind), Value: subject},
				Predicate: rdf.IRI(predicate),
				Object:    rdf.Term{Kind: rdf.TermKind(objectKind), Value: object, Datatype: datatype, Lang: lang},
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fault.WrapFatal(err, "store", "Match", "iterate quad rows")
	}
	return out, nil
}

// Exists reports whether at least one statement matches.
func (s *Store) Exists(ctx context.Context, pattern knowledgegraph.Pattern) (bool, error) {
	where, args := whereClause(pattern)
	var ok bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM quads"+where+");", args...).Scan(&ok); err != nil {
		return false, fault.WrapFatal(err, "store", "Exists", "query quads")
	}
	return ok, nil
}

// Reachable computes the undirected transitive closure over predicate with a
// recursive CTE. UNION (not UNION ALL) keeps cycles from looping.
func (s *Store) Reachable(ctx context.Context, start, predicate rdf.Term) ([]rdf.Term, error) {
	rows, err := s.pool.Query(ctx, sqlReachable, int16(start.Kind), start.Value, predicate.Value)
	if err != nil {
		return nil, fault.WrapFatal(err, "store", "Reachable", "query closure")
	}
	defer rows.Close()

	var out []rdf.Term
	for rows.Next() {
		var kind int16
		var value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, fault.WrapFatal(err, "store", "Reachable", "scan node row")
		}
		out = append(out, rdf.Term{Kind: rdf.TermKind(kind), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fault.WrapFatal(err, "store", "Reachable", "iterate node rows")
	}
	return out, nil
}

// Graphs lists the distinct subgraphs of one kind.
func (s *Store) Graphs(ctx context.Context, kind knowledgegraph.GraphKind) ([]knowledgegraph.GraphKey, error) {
	query := "SELECT DISTINCT graph_kind, graph_iteration, graph_dataset FROM quads"
	var args []any
	if kind != knowledgegraph.KindAny {
		query += " WHERE graph_kind = $1"
		args = append(args, int16(kind))
	}
	query += " ORDER BY graph_kind, graph_iteration, graph_dataset;"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fault.WrapFatal(err, "store", "Graphs", "query graph keys")
	}
	defer rows.Close()

	var keys []knowledgegraph.GraphKey
	for rows.Next() {
		var k int16
		var iteration int32
		var dataset string
		if err := rows.Scan(&k, &iteration, &dataset); err != nil {
			return nil, fault.WrapFatal(err, "store", "Graphs", "scan graph key")
		}
		keys = append(keys, knowledgegraph.GraphKey{Kind: knowledgegraph.GraphKind(k), Iteration: int(iteration), Dataset: dataset})
	}
	if err := rows.Err(); err != nil {
		return nil, fault.WrapFatal(err, "store", "Graphs", "iterate graph keys")
	}
	return keys, nil
}

// RunRecord summarises one discovery run for the runs table.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Iterations int
	Targets    int
	Rotten     int
	Failures   int
}

// RecordRun upserts a run summary.
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	_, err := s.pool.Exec(ctx, sqlInsertRun,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Iterations, run.Targets, run.Rotten, run.Failures,
	)
	if err != nil {
		return fault.WrapFatal(err, "store", "RecordRun", "insert run "+run.ID)
	}
	return nil
}

func quadArgs(graph knowledgegraph.GraphKey, q rdf.Quad) []any {
	return []any{
		int16(graph.Kind), int32(graph.Iteration), graph.Dataset,
		int16(q.Subject.Kind), q.Subject.Value, q.Predicate.Value,
		int16(q.Object.Kind), q.Object.Value, q.Object.Datatype, q.Object.Lang,
	}
}

// whereClause turns a pattern into a WHERE clause with positional arguments.
// Only column names are written into the SQL text; every value is bound.
func whereClause(p knowledgegraph.Pattern) (string, []any) {
	var conds []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, column+" = $"+strconv.Itoa(len(args)))
	}

	switch {
	case p.Graph != nil:
		add("graph_kind", int16(p.Graph.Kind))
		add("graph_iteration", int32(p.Graph.Iteration))
		add("graph_dataset", p.Graph.Dataset)
	case p.Kind != knowledgegraph.KindAny:
		add("graph_kind", int16(p.Kind))
	}
	if !p.Subject.IsZero() {
		add("subject_kind", int16(p.Subject.Kind))
		add("subject", p.Subject.Value)
	}
	if !p.Predicate.IsZero() {
		add("predicate", p.Predicate.Value)
	}
	if !p.Object.IsZero() {
		add("object_kind", int16(p.Object.Kind))
		add("object", p.Object.Value)
		add("object_datatype", p.Object.Datatype)
		add("object_lang", p.Object.Lang)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
