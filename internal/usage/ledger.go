// Package usage persists per-call token accounting to a SQLite ledger in the
// workspace directory. Recording is best-effort; callers log failures and
// keep going.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// DBFileName is the ledger file inside the workspace directory.
const DBFileName = "usage.db"

// Record is one provider call's token accounting.
type Record struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	ProviderID   string    `json:"providerId"`
	ModelID      string    `json:"modelId"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Totals aggregates token counts over some grouping.
type Totals struct {
	ProviderID   string `json:"providerId,omitempty"`
	ModelID      string `json:"modelId,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	Calls        int64  `json:"calls"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
}

// Ledger is the SQLite-backed usage store.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the ledger database under workspaceDir.
func Open(workspaceDir string, logger *slog.Logger) (*Ledger, error) {
	return OpenPath(filepath.Join(workspaceDir, DBFileName), logger)
}

// OpenPath opens the ledger at an explicit path; ":memory:" works for tests.
func OpenPath(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// The ledger is written from one process; a single connection avoids
	// SQLITE_BUSY on concurrent sessions.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, logger: logger.With("component", "usage")}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) init() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS usage (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create usage table: %w", err)
	}
	_, err = l.db.Exec(`CREATE INDEX IF NOT EXISTS idx_usage_session ON usage (session_id)`)
	if err != nil {
		return fmt.Errorf("create usage index: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// Record inserts one usage row. Missing ID and timestamp are filled in.
func (l *Ledger) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage (id, session_id, provider_id, model_id, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.ProviderID, rec.ModelID,
		rec.InputTokens, rec.OutputTokens, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// TotalsByModel aggregates across all sessions, grouped by provider and
// model, ordered by provider then model.
func (l *Ledger) TotalsByModel(ctx context.Context) ([]Totals, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT provider_id, model_id, COUNT(*), SUM(input_tokens), SUM(output_tokens)
		FROM usage
		GROUP BY provider_id, model_id
		ORDER BY provider_id, model_id`)
	if err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	defer rows.Close()

	var out []Totals
	for rows.Next() {
		var t Totals
		if err := rows.Scan(&t.ProviderID, &t.ModelID, &t.Calls, &t.InputTokens, &t.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan usage totals: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TotalsBySession aggregates one session's usage across models.
func (l *Ledger) TotalsBySession(ctx context.Context, sessionID string) (Totals, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM usage WHERE session_id = ?`, sessionID)

	t := Totals{SessionID: sessionID}
	if err := row.Scan(&t.Calls, &t.InputTokens, &t.OutputTokens); err != nil {
		return Totals{}, fmt.Errorf("scan session totals: %w", err)
	}
	return t, nil
}
