package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is replaced in tests to pin timestamps.
var timeNow = time.Now

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds graph store configuration.
type Config struct {
	DataDir string
	// DBName is the database file inside DataDir.
	DBName string
}

// DefaultConfig returns the default configuration for the graph store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir: filepath.Join(home, ".graphmcp"),
		DBName:  "graph.db",
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// SQLiteStore is the Store backed by SQLite in WAL mode.
type SQLiteStore struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

var _ Store = (*SQLiteStore)(nil)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	query   func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func defaultStoreHooks() storeHooks {
	return storeHooks{
		exec: func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
			return db.ExecContext(ctx, query, args...)
		},
		query: func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error) {
			return db.QueryContext(ctx, query, args...)
		},
		beginTx: func(ctx context.Context, db *sql.DB) (*sql.Tx, error) {
			return db.BeginTx(ctx, nil)
		},
		commit: func(tx *sql.Tx) error {
			return tx.Commit()
		},
	}
}

func (s *SQLiteStore) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *SQLiteStore) queryHook(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error) {
	if s.hooks.query != nil {
		return s.hooks.query(ctx, db, query, args...)
	}
	return db.QueryContext(ctx, query, args...)
}

func (s *SQLiteStore) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *SQLiteStore) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// NewSQLiteStore creates the data directory if needed, opens SQLite with WAL
// mode and runs migrations.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.DBName == "" {
		cfg.DBName = "graph.db"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("graph: create data dir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them, not just
	// the first one.
	dbPath := filepath.Join(cfg.DataDir, cfg.DBName)
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
	db, err := openDB("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("graph: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("graph: ping database: %w", err)
	}

	s := &SQLiteStore{db: db, cfg: cfg, hooks: defaultStoreHooks()}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("graph: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			uid         TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			project     TEXT,
			props       TEXT NOT NULL DEFAULT '{}',
			embedding   TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_nodes_type    ON nodes(type);
		CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project);

		CREATE TABLE IF NOT EXISTS edges (
			from_uid   TEXT NOT NULL,
			to_uid     TEXT NOT NULL,
			type       TEXT NOT NULL,
			tag        TEXT NOT NULL DEFAULT '',
			props      TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			FOREIGN KEY (from_uid) REFERENCES nodes(uid) ON DELETE CASCADE,
			FOREIGN KEY (to_uid)   REFERENCES nodes(uid) ON DELETE CASCADE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_edges_unique ON edges(from_uid, to_uid, type, tag);
		CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_uid);
		CREATE INDEX IF NOT EXISTS idx_edges_to   ON edges(to_uid);
		CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(type);

		CREATE TABLE IF NOT EXISTS cursors (
			agent_id   TEXT PRIMARY KEY,
			node_uid   TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (node_uid) REFERENCES nodes(uid) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_cursors_node ON cursors(node_uid);
	`
	_, err := s.execHook(ctx, s.db, schema)
	return err
}

// ─── Nodes ───────────────────────────────────────────────────────────────────

const nodeColumns = `uid, type, title, description, status, content, COALESCE(project, ''), props, embedding, created_at, updated_at`

// GetNode returns a node by uid or ErrNotFound.
func (s *SQLiteStore) GetNode(ctx context.Context, uid string) (*Node, error) {
	nodes, err := s.queryNodes(ctx, s.db, `SELECT `+nodeColumns+` FROM nodes WHERE uid = ?`, uid)
	if err != nil {
		return nil, fmt.Errorf("loading node %s: %w", uid, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("node %s: %w", uid, ErrNotFound)
	}
	return &nodes[0], nil
}

// ListNodes returns nodes matching the filter ordered by uid.
func (s *SQLiteStore) ListNodes(ctx context.Context, f NodeFilter) ([]Node, error) {
	where, args := nodeWhere(f)
	query := `SELECT ` + nodeColumns + ` FROM nodes` + where + ` ORDER BY uid`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	nodes, err := s.queryNodes(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	return nodes, nil
}

// CountNodes counts nodes matching the filter. Limit is ignored.
func (s *SQLiteStore) CountNodes(ctx context.Context, f NodeFilter) (int, error) {
	where, args := nodeWhere(f)
	rows, err := s.queryHook(ctx, s.db, `SELECT COUNT(*) FROM nodes`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("counting nodes: %w", err)
	}
	defer rows.Close()

	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("scanning count: %w", err)
		}
	}
	return n, rows.Err()
}

// TypeCounts returns node counts per type within the project scope.
func (s *SQLiteStore) TypeCounts(ctx context.Context, project string) (map[string]int, error) {
	where, args := nodeWhere(NodeFilter{Project: project})
	rows, err := s.queryHook(ctx, s.db, `SELECT type, COUNT(*) FROM nodes`+where+` GROUP BY type`, args...)
	if err != nil {
		return nil, fmt.Errorf("counting types: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scanning type count: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// CreateNode inserts a new node. The cardinality guard and the uid check run
// inside the INSERT itself, so two racing creates cannot both pass.
func (s *SQLiteStore) CreateNode(ctx context.Context, n Node, opts CreateOptions) (*Node, error) {
	if n.UID == "" || n.Type == "" {
		return nil, fmt.Errorf("creating node: uid and type are required")
	}
	now := Now()
	n.CreatedAt, n.UpdatedAt = now, now

	props, err := encodeProps(n.Props)
	if err != nil {
		return nil, err
	}
	emb, err := encodeEmbedding(n.Embedding)
	if err != nil {
		return nil, err
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var link *Edge
	if opts.Link != nil {
		e := *opts.Link
		anchor := e.From
		switch {
		case e.From == "":
			e.From, anchor = n.UID, e.To
		case e.To == "":
			e.To = n.UID
		default:
			return nil, fmt.Errorf("creating node: link %s must leave one endpoint empty", e)
		}
		exists, err := s.exists(ctx, tx, anchor)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("link anchor %s: %w", anchor, ErrNotFound)
		}
		link = &e
	}

	insert := `INSERT INTO nodes (uid, type, title, description, status, content, project, props, embedding, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`
	args := []any{n.UID, n.Type, n.Title, n.Description, n.Status, n.Content, nullable(n.Project), props, emb, now, now}
	if opts.MaxCount > 0 {
		insert += ` WHERE (SELECT COUNT(*) FROM nodes WHERE type = ? AND (? = '' OR project = ? OR project IS NULL)) < ?`
		args = append(args, n.Type, n.Project, n.Project, opts.MaxCount)
	}

	res, err := s.execHook(ctx, tx, insert, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("node %s: %w", n.UID, ErrExists)
		}
		return nil, fmt.Errorf("inserting node: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("type %s allows at most %d per project scope: %w", n.Type, opts.MaxCount, ErrCardinality)
	}

	if link != nil {
		if err := s.insertEdge(ctx, tx, *link); err != nil {
			return nil, err
		}
	}

	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &n, nil
}

// UpsertNode inserts or replaces the mutable fields of a node. created_at and
// embedding survive; an existing node of another type yields ErrTypeMismatch.
func (s *SQLiteStore) UpsertNode(ctx context.Context, n Node) (*Node, error) {
	if n.UID == "" || n.Type == "" {
		return nil, fmt.Errorf("upserting node: uid and type are required")
	}
	props, err := encodeProps(n.Props)
	if err != nil {
		return nil, err
	}
	now := Now()

	res, err := s.execHook(ctx, s.db, `
		INSERT INTO nodes (uid, type, title, description, status, content, project, props, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			title       = excluded.title,
			description = excluded.description,
			status      = excluded.status,
			content     = excluded.content,
			project     = excluded.project,
			props       = excluded.props,
			updated_at  = excluded.updated_at
		WHERE nodes.type = excluded.type`,
		n.UID, n.Type, n.Title, n.Description, n.Status, n.Content, nullable(n.Project), props, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting node %s: %w", n.UID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("node %s is not a %s: %w", n.UID, n.Type, ErrTypeMismatch)
	}
	return s.GetNode(ctx, n.UID)
}

// UpdateNode applies a partial update inside a transaction.
func (s *SQLiteStore) UpdateNode(ctx context.Context, uid string, p NodePatch) (*Node, error) {
	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	nodes, err := s.queryNodes(ctx, tx, `SELECT `+nodeColumns+` FROM nodes WHERE uid = ?`, uid)
	if err != nil {
		return nil, fmt.Errorf("loading node %s: %w", uid, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("node %s: %w", uid, ErrNotFound)
	}
	n := nodes[0]

	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Description != nil {
		n.Description = *p.Description
	}
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if len(p.Props) > 0 {
		if n.Props == nil {
			n.Props = make(map[string]any, len(p.Props))
		}
		for k, v := range p.Props {
			if v == nil {
				delete(n.Props, k)
				continue
			}
			n.Props[k] = v
		}
	}
	props, err := encodeProps(n.Props)
	if err != nil {
		return nil, err
	}
	n.UpdatedAt = Now()

	if _, err := s.execHook(ctx, tx,
		`UPDATE nodes SET title = ?, description = ?, status = ?, content = ?, props = ?, updated_at = ? WHERE uid = ?`,
		n.Title, n.Description, n.Status, n.Content, props, n.UpdatedAt, uid,
	); err != nil {
		return nil, fmt.Errorf("updating node %s: %w", uid, err)
	}
	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &n, nil
}

// DeleteLeaf removes a node and its edges only when it is not a protected
// meta type, not a cursor location and has no outgoing structural edge.
// CONFLICT edges are tracking links and do not count as structure.
func (s *SQLiteStore) DeleteLeaf(ctx context.Context, uid string) error {
	protected := make([]string, len(ProtectedTypes))
	args := []any{uid}
	for i, t := range ProtectedTypes {
		protected[i] = "?"
		args = append(args, t)
	}
	args = append(args, uid, RelConflict, uid)

	res, err := s.execHook(ctx, s.db, `
		DELETE FROM nodes
		WHERE uid = ?
		  AND type NOT IN (`+strings.Join(protected, ", ")+`)
		  AND NOT EXISTS (SELECT 1 FROM edges WHERE from_uid = ? AND type <> ?)
		  AND NOT EXISTS (SELECT 1 FROM cursors WHERE node_uid = ?)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("deleting node %s: %w", uid, err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}
	return s.explainRefusedDelete(ctx, uid)
}

// explainRefusedDelete names the guard that stopped DeleteLeaf.
func (s *SQLiteStore) explainRefusedDelete(ctx context.Context, uid string) error {
	n, err := s.GetNode(ctx, uid)
	if err != nil {
		return err
	}
	if IsProtected(n.Type) {
		return fmt.Errorf("node %s (type %s): %w", uid, n.Type, ErrProtected)
	}
	cursors, err := s.queryStrings(ctx, `SELECT agent_id FROM cursors WHERE node_uid = ? ORDER BY agent_id`, uid)
	if err != nil {
		return fmt.Errorf("checking cursors: %w", err)
	}
	if len(cursors) > 0 {
		return fmt.Errorf("node %s is the location of %s: %w", uid, strings.Join(cursors, ", "), ErrIsCursor)
	}
	children, err := s.queryStrings(ctx, `SELECT to_uid FROM edges WHERE from_uid = ? AND type <> ? ORDER BY to_uid`, uid, RelConflict)
	if err != nil {
		return fmt.Errorf("checking children: %w", err)
	}
	if len(children) > 0 {
		return fmt.Errorf("node %s points to %d node(s) (%s): %w", uid, len(children), strings.Join(children, ", "), ErrHasChildren)
	}
	// Guards cleared between the delete and the diagnosis; caller may retry.
	return fmt.Errorf("node %s changed concurrently, retry: %w", uid, ErrHasChildren)
}

// SetEmbedding stores the vector of a node.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, uid string, vec []float32) error {
	emb, err := encodeEmbedding(vec)
	if err != nil {
		return err
	}
	res, err := s.execHook(ctx, s.db, `UPDATE nodes SET embedding = ? WHERE uid = ?`, emb, uid)
	if err != nil {
		return fmt.Errorf("storing embedding for %s: %w", uid, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("node %s: %w", uid, ErrNotFound)
	}
	return nil
}

// ─── Edges ───────────────────────────────────────────────────────────────────

// UpsertEdge creates the edge if missing. It reports whether a row was added.
func (s *SQLiteStore) UpsertEdge(ctx context.Context, e Edge) (bool, error) {
	if e.From == "" || e.To == "" || e.Type == "" {
		return false, fmt.Errorf("upserting edge: from, to and type are required")
	}
	for _, uid := range []string{e.From, e.To} {
		ok, err := s.exists(ctx, s.db, uid)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("edge endpoint %s: %w", uid, ErrNotFound)
		}
	}
	props, err := encodeProps(e.Props)
	if err != nil {
		return false, err
	}
	res, err := s.execHook(ctx, s.db, `
		INSERT INTO edges (from_uid, to_uid, type, tag, props, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_uid, to_uid, type, tag) DO NOTHING`,
		e.From, e.To, e.Type, e.Tag, props, Now(),
	)
	if err != nil {
		return false, fmt.Errorf("upserting edge %s: %w", e, err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// RemoveEdge deletes an edge. With keepInbound the delete is refused when it
// would leave the target with no inbound structural edge; the count and the
// delete are one statement. CONFLICT tracking links neither count nor are
// guarded.
func (s *SQLiteStore) RemoveEdge(ctx context.Context, e Edge, keepInbound bool) error {
	query := `DELETE FROM edges WHERE from_uid = ? AND to_uid = ? AND type = ? AND tag = ?`
	args := []any{e.From, e.To, e.Type, e.Tag}
	if keepInbound && e.Type != RelConflict {
		query += ` AND (SELECT COUNT(*) FROM edges WHERE to_uid = ? AND type <> ?) > 1`
		args = append(args, e.To, RelConflict)
	}
	res, err := s.execHook(ctx, s.db, query, args...)
	if err != nil {
		return fmt.Errorf("removing edge %s: %w", e, err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}

	existing, err := s.Edges(ctx, EdgeFilter{UID: e.From, Direction: Outgoing, Types: []string{e.Type}})
	if err != nil {
		return err
	}
	for _, x := range existing {
		if x.To == e.To && x.Tag == e.Tag {
			return fmt.Errorf("edge %s: %w", e, ErrSoleInbound)
		}
	}
	return fmt.Errorf("edge %s: %w", e, ErrNotFound)
}

// Edges returns edges matching the filter ordered by (type, from, to).
func (s *SQLiteStore) Edges(ctx context.Context, f EdgeFilter) ([]Edge, error) {
	var clauses []string
	var args []any

	if f.UID != "" {
		switch f.Direction {
		case Outgoing:
			clauses = append(clauses, "from_uid = ?")
			args = append(args, f.UID)
		case Incoming:
			clauses = append(clauses, "to_uid = ?")
			args = append(args, f.UID)
		default:
			clauses = append(clauses, "(from_uid = ? OR to_uid = ?)")
			args = append(args, f.UID, f.UID)
		}
	}
	if len(f.Types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if f.Tag != "" {
		clauses = append(clauses, "tag = ?")
		args = append(args, f.Tag)
	}

	query := `SELECT from_uid, to_uid, type, tag, props, created_at FROM edges`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY type, from_uid, to_uid, tag"

	rows, err := s.queryHook(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var result []Edge
	for rows.Next() {
		var e Edge
		var props string
		if err := rows.Scan(&e.From, &e.To, &e.Type, &e.Tag, &props, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		if e.Props, err = decodeProps(props); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ─── Cursor ──────────────────────────────────────────────────────────────────

// Cursor returns the node an agent is focused on, or ErrNotFound when unset.
func (s *SQLiteStore) Cursor(ctx context.Context, agentID string) (string, error) {
	uids, err := s.queryStrings(ctx, `SELECT node_uid FROM cursors WHERE agent_id = ?`, agentID)
	if err != nil {
		return "", fmt.Errorf("loading cursor for %s: %w", agentID, err)
	}
	if len(uids) == 0 {
		return "", fmt.Errorf("cursor for %s: %w", agentID, ErrNotFound)
	}
	return uids[0], nil
}

// SetCursor replaces the agent's single cursor edge. The existence check of
// the destination and the replacement are one statement.
func (s *SQLiteStore) SetCursor(ctx context.Context, agentID, uid string) error {
	res, err := s.execHook(ctx, s.db, `
		INSERT INTO cursors (agent_id, node_uid, updated_at)
		SELECT ?, uid, ? FROM nodes WHERE uid = ?
		ON CONFLICT(agent_id) DO UPDATE SET
			node_uid   = excluded.node_uid,
			updated_at = excluded.updated_at`,
		agentID, Now(), uid,
	)
	if err != nil {
		return fmt.Errorf("moving cursor for %s: %w", agentID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("destination %s: %w", uid, ErrNotFound)
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *SQLiteStore) exists(ctx context.Context, db queryer, uid string) (bool, error) {
	rows, err := s.queryHook(ctx, db, `SELECT 1 FROM nodes WHERE uid = ?`, uid)
	if err != nil {
		return false, fmt.Errorf("checking node %s: %w", uid, err)
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

func (s *SQLiteStore) insertEdge(ctx context.Context, db execer, e Edge) error {
	props, err := encodeProps(e.Props)
	if err != nil {
		return err
	}
	_, err = s.execHook(ctx, db, `
		INSERT INTO edges (from_uid, to_uid, type, tag, props, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_uid, to_uid, type, tag) DO NOTHING`,
		e.From, e.To, e.Type, e.Tag, props, Now(),
	)
	if err != nil {
		return fmt.Errorf("inserting edge %s: %w", e, err)
	}
	return nil
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.queryHook(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) queryNodes(ctx context.Context, db queryer, query string, args ...any) ([]Node, error) {
	rows, err := s.queryHook(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Node
	for rows.Next() {
		var n Node
		var props string
		var emb sql.NullString
		if err := rows.Scan(
			&n.UID, &n.Type, &n.Title, &n.Description, &n.Status, &n.Content,
			&n.Project, &props, &emb, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if n.Props, err = decodeProps(props); err != nil {
			return nil, err
		}
		if emb.Valid && emb.String != "" {
			if err := json.Unmarshal([]byte(emb.String), &n.Embedding); err != nil {
				return nil, fmt.Errorf("decoding embedding of %s: %w", n.UID, err)
			}
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

func nodeWhere(f NodeFilter) (string, []any) {
	var clauses []string
	var args []any

	if len(f.Types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if len(f.UIDs) > 0 {
		clauses = append(clauses, "uid IN ("+placeholders(len(f.UIDs))+")")
		for _, u := range f.UIDs {
			args = append(args, u)
		}
	}
	if f.Project != "" {
		clauses = append(clauses, "(project = ? OR project IS NULL)")
		args = append(args, f.Project)
	}
	if len(f.Props) > 0 {
		keys := make([]string, 0, len(f.Props))
		for k := range f.Props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			clauses = append(clauses, "json_extract(props, ?) = ?")
			args = append(args, "$."+k, f.Props[k])
		}
	}
	if f.WithEmbedding {
		clauses = append(clauses, "embedding IS NOT NULL")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func encodeProps(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encoding props: %w", err)
	}
	return string(data), nil
}

func decodeProps(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("decoding props: %w", err)
	}
	return props, nil
}

func encodeEmbedding(vec []float32) (any, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("encoding embedding: %w", err)
	}
	return string(data), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}

// Now returns the current time formatted for storage.
func Now() string {
	return timeNow().UTC().Format(time.RFC3339)
}
