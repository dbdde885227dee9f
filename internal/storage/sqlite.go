package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for documents, artifacts,
// study sessions, generation runs, and the index job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "synaptic.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for the vector store, which shares
// this database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Documents ---

func (s *Store) SaveDocument(d Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, title, source, content_type, extracted_text, text_length, indexed, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Source, d.ContentType, d.ExtractedText, len(d.ExtractedText),
		boolToInt(d.Indexed), d.ChunkCount, d.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var createdAt string
	var indexed int
	err := s.db.QueryRow(`
		SELECT id, title, source, content_type, extracted_text, text_length, indexed, chunk_count, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Source, &d.ContentType, &d.ExtractedText, &d.TextLength, &indexed, &d.ChunkCount, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	d.Indexed = indexed != 0
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// ListDocuments returns documents most recent first, without extracted text
// (listings don't need the full body).
func (s *Store) ListDocuments(limit, offset int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, title, source, content_type, text_length, indexed, chunk_count, created_at
		FROM documents ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var createdAt string
		var indexed int
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.ContentType, &d.TextLength, &indexed, &d.ChunkCount, &createdAt); err != nil {
			return nil, err
		}
		d.Indexed = indexed != 0
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}

// SetDocumentIndexed flips the index flags after a chunk index build.
func (s *Store) SetDocumentIndexed(id string, chunkCount int) error {
	res, err := s.db.Exec(`UPDATE documents SET indexed = 1, chunk_count = ? WHERE id = ?`, chunkCount, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteDocument(id string) error {
	res, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Artifacts ---

func (s *Store) SaveArtifact(a Artifact) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (id, document_id, kind, content_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.DocumentID, a.Kind, a.ContentJSON, a.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetArtifact(id string) (Artifact, error) {
	var a Artifact
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, document_id, kind, content_json, created_at
		FROM artifacts WHERE id = ?`, id,
	).Scan(&a.ID, &a.DocumentID, &a.Kind, &a.ContentJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Artifact{}, fmt.Errorf("parsing created_at: %w", err)
	}
	a.CreatedAt = t
	return a, nil
}

// ListArtifacts returns artifacts for a document, most recent first.
// kind filters to a single artifact kind when non-empty.
func (s *Store) ListArtifacts(documentID, kind string, limit int) ([]Artifact, error) {
	query := `SELECT id, document_id, kind, content_json, created_at
		FROM artifacts WHERE document_id = ?`
	args := []any{documentID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Artifact
	for rows.Next() {
		var a Artifact
		var createdAt string
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Kind, &a.ContentJSON, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		a.CreatedAt = t
		results = append(results, a)
	}
	return results, rows.Err()
}

func (s *Store) DeleteArtifact(id string) error {
	res, err := s.db.Exec(`DELETE FROM artifacts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Study sessions ---

func (s *Store) SaveStudySession(sess StudySession) error {
	_, err := s.db.Exec(`
		INSERT INTO study_sessions (id, document_id, activity_kind, started_at, completed_at, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.DocumentID, sess.ActivityKind,
		sess.StartedAt.UTC().Format(time.RFC3339), sess.CompletedAt.UTC().Format(time.RFC3339),
		sess.DurationSeconds,
	)
	return err
}

func (s *Store) ListStudySessions(documentID string, limit int) ([]StudySession, error) {
	query := `SELECT id, document_id, activity_kind, started_at, completed_at, duration_seconds
		FROM study_sessions`
	args := []any{}
	if documentID != "" {
		query += ` WHERE document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StudySession
	for rows.Next() {
		var sess StudySession
		var startedAt, completedAt string
		if err := rows.Scan(&sess.ID, &sess.DocumentID, &sess.ActivityKind, &startedAt, &completedAt, &sess.DurationSeconds); err != nil {
			return nil, err
		}
		var err error
		if sess.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if sess.CompletedAt, err = time.Parse(time.RFC3339, completedAt); err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

// --- Generation runs ---

func (s *Store) SaveGenerationRun(r GenerationRun) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !r.CreatedAt.IsZero() {
		createdAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO generation_runs (id, document_id, kind, status, progress, error, draft_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DocumentID, r.Kind, r.Status, r.Progress, r.Error, r.DraftRef, createdAt, now,
	)
	return err
}

// UpdateGenerationRun writes status, progress, error, and draft ref for a run.
func (s *Store) UpdateGenerationRun(id, status string, progress int, errMsg, draftRef string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE generation_runs SET status = ?, progress = ?, error = ?, draft_ref = ?, updated_at = ?
		WHERE id = ?`,
		status, progress, errMsg, draftRef, now, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetGenerationRun(id string) (GenerationRun, error) {
	var r GenerationRun
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, document_id, kind, status, progress, error, draft_ref, created_at, updated_at
		FROM generation_runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.DocumentID, &r.Kind, &r.Status, &r.Progress, &r.Error, &r.DraftRef, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return GenerationRun{}, ErrNotFound
	}
	if err != nil {
		return GenerationRun{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return GenerationRun{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return GenerationRun{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
