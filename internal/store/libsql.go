package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/bpmnkit/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Diagrams ---

const diagramColumns = `id, root_id, parent_id, revision, process_name, spec, xml, definitions_id, pitch, stats, created_at`

// SaveDiagram inserts d. A diagram with a ParentID joins the parent's lineage
// and takes the next revision number; otherwise it starts a new lineage.
// Missing ID and CreatedAt are filled in.
func (s *LibSQLStore) SaveDiagram(ctx context.Context, d *Diagram) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = timeOrNow(d.CreatedAt)

	spec, err := json.Marshal(d.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	d.RootID, d.Revision = d.ID, 1
	if d.ParentID != "" {
		var root string
		err := tx.QueryRowContext(ctx, `SELECT root_id FROM diagrams WHERE id = ?`, d.ParentID).Scan(&root)
		if errors.Is(err, sql.ErrNoRows) {
			return storeNotFound("diagram", d.ParentID)
		}
		if err != nil {
			return fmt.Errorf("lookup parent: %w", err)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(revision), 0) + 1 FROM diagrams WHERE root_id = ?`, root,
		).Scan(&d.Revision); err != nil {
			return fmt.Errorf("next revision: %w", err)
		}
		d.RootID = root
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO diagrams (`+diagramColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RootID, nullStr(d.ParentID), d.Revision, d.ProcessName, string(spec), d.XML,
		d.DefinitionsID, d.Pitch, nullRaw(d.Stats), d.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return schema.NewErrorf(schema.ErrCodeConflict, "diagram %q already exists", d.ID).WithCause(err)
		}
		return fmt.Errorf("insert diagram: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) GetDiagram(ctx context.Context, id string) (*Diagram, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+diagramColumns+` FROM diagrams WHERE id = ?`, id)
	d, err := scanDiagram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("diagram", id)
	}
	return d, err
}

func (s *LibSQLStore) ListDiagrams(ctx context.Context, filter DiagramFilter) ([]*Diagram, error) {
	var where []string
	var args []any

	if filter.ProcessName != "" {
		where = append(where, "LOWER(process_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.ProcessName)+"%")
	}
	if filter.RootID != "" {
		where = append(where, "root_id = ?")
		args = append(args, filter.RootID)
	}
	if filter.LatestOnly {
		where = append(where, "revision = (SELECT MAX(d2.revision) FROM diagrams d2 WHERE d2.root_id = diagrams.root_id)")
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT " + diagramColumns + " FROM diagrams"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, revision DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDiagrams(rows)
}

// ListRevisions returns every diagram in the lineage of id, oldest first.
func (s *LibSQLStore) ListRevisions(ctx context.Context, id string) ([]*Diagram, error) {
	var root string
	err := s.db.QueryRowContext(ctx, `SELECT root_id FROM diagrams WHERE id = ?`, id).Scan(&root)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("diagram", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+diagramColumns+` FROM diagrams WHERE root_id = ? ORDER BY revision ASC`, root)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDiagrams(rows)
}

func (s *LibSQLStore) DeleteDiagram(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM diagrams WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "diagram", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiagram(row rowScanner) (*Diagram, error) {
	d := &Diagram{}
	var (
		parentID, stats sql.NullString
		specJSON        string
	)
	if err := row.Scan(&d.ID, &d.RootID, &parentID, &d.Revision, &d.ProcessName, &specJSON, &d.XML,
		&d.DefinitionsID, &d.Pitch, &stats, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.ParentID = parentID.String
	d.Stats = rawOrNil(stats)
	if err := json.Unmarshal([]byte(specJSON), &d.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return d, nil
}

func scanDiagrams(rows *sql.Rows) ([]*Diagram, error) {
	var out []*Diagram
	for rows.Next() {
		d, err := scanDiagram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// insertEvent assigns the next per-diagram sequence number and writes event.
func insertEvent(ctx context.Context, tx *sql.Tx, event *Event) error {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE diagram_id = ?`, event.DiagramID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (diagram_id, event_type, payload, request_id, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.DiagramID, event.Type, nullRaw(event.Payload), nullStr(event.RequestID), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, diagramID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, diagram_id, event_type, payload, request_id, timestamp, sequence
		 FROM events WHERE diagram_id = ? AND sequence > ? ORDER BY sequence ASC`,
		diagramID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.DiagramID != "" {
		where = append(where, "diagram_id = ?")
		args = append(args, filter.DiagramID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, diagram_id, event_type, payload, request_id, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var payload, requestID sql.NullString
		if err := rows.Scan(&e.ID, &e.DiagramID, &e.Type, &payload, &requestID, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.RequestID = requestID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
