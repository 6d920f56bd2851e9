// Package postgres is the optional sync target: projects, their files,
// execution logs and simulator templates in PostgreSQL. The editor works
// without it; when configured, the workspace tree is mirrored here.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/instantpreview/instantpreview/internal/executor"
	"github.com/instantpreview/instantpreview/internal/logging"
	"github.com/instantpreview/instantpreview/internal/metrics"
	"github.com/instantpreview/instantpreview/pkg/models"
	"github.com/instantpreview/instantpreview/pkg/tree"
)

// ErrProjectNotFound is returned for an unknown project id.
var ErrProjectNotFound = errors.New("project not found")

// Store is a PostgreSQL sync target.
type Store struct {
	db *sql.DB
}

// FileRow maps to the project_files table.
type FileRow struct {
	ID           string
	ParentID     string
	Position     int
	Name         string
	Kind         models.Kind
	Content      string
	Language     string
	DateCreated  time.Time
	DateModified time.Time
}

// New opens and pings the database.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// EnsureProject returns the id of the project with the given name, creating
// it when missing.
func (s *Store) EnsureProject(ctx context.Context, name string) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("ensure_project", time.Since(start)) }()

	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO projects (id, name) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET updated_at = NOW()
		 RETURNING id`, uuid.NewString(), name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensure project %s: %w", name, err)
	}
	return id, nil
}

// SyncTree replaces the stored files of a project with nodes in one
// transaction.
func (s *Store) SyncTree(ctx context.Context, projectID string, nodes []*models.FileNode) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("sync_tree", time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Warn("rollback sync", zap.Error(rbErr))
			}
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET updated_at = NOW(), synced_at = NOW() WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync %s: %w", projectID, ErrProjectNotFound)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM project_files WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("clear files: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO project_files
		 (project_id, id, parent_id, position, name, type, content, language, date_created, date_modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range Rows(nodes) {
		var parent sql.NullString
		if r.ParentID != "" {
			parent = sql.NullString{String: r.ParentID, Valid: true}
		}
		if _, err = stmt.ExecContext(ctx, projectID, r.ID, parent, r.Position, r.Name,
			string(r.Kind), r.Content, r.Language, r.DateCreated, r.DateModified); err != nil {
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logging.Debug("synced project tree",
		zap.String("project", projectID), zap.Int("nodes", tree.CountNodes(nodes)))
	return nil
}

// LoadTree reads a project's files back into a tree.
func (s *Store) LoadTree(ctx context.Context, projectID string) ([]*models.FileNode, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("load_tree", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(parent_id, ''), position, name, type, content, language, date_created, date_modified
		 FROM project_files WHERE project_id = $1 ORDER BY position`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var all []FileRow
	for rows.Next() {
		var r FileRow
		var kind string
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Position, &r.Name, &kind,
			&r.Content, &r.Language, &r.DateCreated, &r.DateModified); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Kind = models.Kind(kind)
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return Assemble(all), nil
}

// RecordExecution stores one execution in execution_logs.
func (s *Store) RecordExecution(ctx context.Context, projectID, language, code string, res executor.Result) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("record_execution", time.Since(start)) }()

	var project sql.NullString
	if projectID != "" {
		project = sql.NullString{String: projectID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs (project_id, language, code, output, diagnostics, success, simulated, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		project, language, code, res.Output, len(res.Diagnostics), !res.HasErrors(), res.Simulated, res.DurationMs)
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	return nil
}

// ListSimulators returns the enabled output templates keyed by language.
func (s *Store) ListSimulators(ctx context.Context) (map[string]string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_simulators", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT language, template FROM simulators WHERE enabled ORDER BY language`)
	if err != nil {
		return nil, fmt.Errorf("query simulators: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var lang, tpl string
		if err := rows.Scan(&lang, &tpl); err != nil {
			return nil, fmt.Errorf("scan simulator: %w", err)
		}
		out[lang] = tpl
	}
	return out, rows.Err()
}

// ExecutionLog binds RecordExecution to one project.
type ExecutionLog struct {
	store     *Store
	projectID string
}

// ExecutionLog returns a recorder for projectID.
func (s *Store) ExecutionLog(projectID string) *ExecutionLog {
	return &ExecutionLog{store: s, projectID: projectID}
}

// RecordExecution stores res for the bound project.
func (l *ExecutionLog) RecordExecution(ctx context.Context, language, code string, res executor.Result) error {
	return l.store.RecordExecution(ctx, l.projectID, language, code, res)
}

// Rows flattens a tree into rows in depth-first order. Position is the index
// among siblings.
func Rows(nodes []*models.FileNode) []FileRow {
	var out []FileRow
	var walk func(parentID string, level []*models.FileNode)
	walk = func(parentID string, level []*models.FileNode) {
		for i, n := range level {
			out = append(out, FileRow{
				ID:           n.ID,
				ParentID:     parentID,
				Position:     i,
				Name:         n.Name,
				Kind:         n.Kind,
				Content:      n.Content,
				Language:     n.Language,
				DateCreated:  n.DateCreated,
				DateModified: n.DateModified,
			})
			walk(n.ID, n.Children)
		}
	}
	walk("", nodes)
	return out
}

// Assemble rebuilds a tree from rows. Siblings are ordered by Position;
// rows whose parent is missing or not a folder are dropped.
func Assemble(rows []FileRow) []*models.FileNode {
	byID := make(map[string]*models.FileNode, len(rows))
	for _, r := range rows {
		n := &models.FileNode{
			ID:           r.ID,
			Name:         r.Name,
			Kind:         r.Kind,
			DateCreated:  r.DateCreated.UTC(),
			DateModified: r.DateModified.UTC(),
		}
		if n.IsFolder() {
			n.Children = []*models.FileNode{}
		} else {
			n.Content, n.Language = r.Content, r.Language
		}
		byID[r.ID] = n
	}

	ordered := make([]FileRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	roots := []*models.FileNode{}
	for _, r := range ordered {
		n := byID[r.ID]
		if r.ParentID == "" {
			roots = append(roots, n)
			continue
		}
		parent, ok := byID[r.ParentID]
		if !ok || !parent.IsFolder() {
			logging.Warn("dropping orphan project file", zap.String("id", r.ID), zap.String("parent", r.ParentID))
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	return roots
}
