// Package checkpoint records scraping progress in sqlite so interrupted runs
// resume without refetching completed pages or items.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Status values for a scraper task.
const (
	StatusIdle    = "idle"
	StatusRunning = "running"
	StatusDone    = "done"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrape_progress (
	scraper_name    TEXT PRIMARY KEY,
	last_page       INTEGER NOT NULL DEFAULT 0,
	completed_items INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'idle',
	last_run        TEXT
);

CREATE TABLE IF NOT EXISTS scraped_items (
	scraper_name TEXT NOT NULL,
	item_id      TEXT NOT NULL,
	scraped_at   TEXT NOT NULL,
	PRIMARY KEY (scraper_name, item_id)
);
`

// Progress is one row of scrape_progress.
type Progress struct {
	Scraper        string         `db:"scraper_name"`
	LastPage       int            `db:"last_page"`
	CompletedItems int            `db:"completed_items"`
	Status         string         `db:"status"`
	LastRunRaw     sql.NullString `db:"last_run"`
}

// LastRun parses the stored timestamp. The zero time means never.
func (p Progress) LastRun() time.Time {
	if !p.LastRunRaw.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, p.LastRunRaw.String)
	return t
}

// Store is the checkpoint database. It is safe for concurrent use; WAL mode
// keeps status readers from blocking the writer.
type Store struct {
	db  *sqlx.DB
	now func() time.Time // for testing
}

// Open creates or opens the checkpoint database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("checkpoint: mkdir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) stamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

// MarkPageDone records page as completed. The stored page never decreases.
func (s *Store) MarkPageDone(ctx context.Context, scraper string, page int) error {
	const q = `
		INSERT INTO scrape_progress (scraper_name, last_page, status, last_run)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scraper_name) DO UPDATE SET
			last_page = MAX(last_page, excluded.last_page),
			status = excluded.status,
			last_run = excluded.last_run`
	if _, err := s.db.ExecContext(ctx, q, scraper, page, StatusRunning, s.stamp()); err != nil {
		return fmt.Errorf("checkpoint: mark page %s/%d: %w", scraper, page, err)
	}
	return nil
}

// ResumePage returns the next page to fetch: last completed + 1, or 1.
func (s *Store) ResumePage(ctx context.Context, scraper string) (int, error) {
	var last int
	err := s.db.GetContext(ctx, &last, `SELECT last_page FROM scrape_progress WHERE scraper_name = ?`, scraper)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("checkpoint: resume %s: %w", scraper, err)
	}
	return last + 1, nil
}

// MarkItemDone records itemID as fetched. Repeated calls are no-ops; the
// completed counter only moves when a new item is inserted.
func (s *Store) MarkItemDone(ctx context.Context, scraper, itemID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: begin: %w", err)
	}
	defer tx.Rollback()

	now := s.stamp()
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO scraped_items (scraper_name, item_id, scraped_at) VALUES (?, ?, ?)`,
		scraper, itemID, now)
	if err != nil {
		return fmt.Errorf("checkpoint: mark item %s/%s: %w", scraper, itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		const q = `
			INSERT INTO scrape_progress (scraper_name, completed_items, status, last_run)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(scraper_name) DO UPDATE SET
				completed_items = completed_items + 1,
				last_run = excluded.last_run`
		if _, err := tx.ExecContext(ctx, q, scraper, StatusRunning, now); err != nil {
			return fmt.Errorf("checkpoint: count item %s: %w", scraper, err)
		}
	}
	return tx.Commit()
}

// IsItemDone reports whether itemID was already fetched.
func (s *Store) IsItemDone(ctx context.Context, scraper, itemID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(1) FROM scraped_items WHERE scraper_name = ? AND item_id = ?`, scraper, itemID)
	if err != nil {
		return false, fmt.Errorf("checkpoint: lookup %s/%s: %w", scraper, itemID, err)
	}
	return n > 0, nil
}

// SetStatus updates the operator-visible status of a scraper task.
func (s *Store) SetStatus(ctx context.Context, scraper, status string) error {
	switch status {
	case StatusIdle, StatusRunning, StatusDone:
	default:
		return fmt.Errorf("checkpoint: unknown status %q", status)
	}
	const q = `
		INSERT INTO scrape_progress (scraper_name, status, last_run)
		VALUES (?, ?, ?)
		ON CONFLICT(scraper_name) DO UPDATE SET
			status = excluded.status,
			last_run = excluded.last_run`
	if _, err := s.db.ExecContext(ctx, q, scraper, status, s.stamp()); err != nil {
		return fmt.Errorf("checkpoint: status %s: %w", scraper, err)
	}
	return nil
}

// Stats returns every progress row ordered by scraper name.
func (s *Store) Stats(ctx context.Context) ([]Progress, error) {
	var out []Progress
	err := s.db.SelectContext(ctx, &out,
		`SELECT scraper_name, last_page, completed_items, status, last_run FROM scrape_progress ORDER BY scraper_name`)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: stats: %w", err)
	}
	return out, nil
}

// ItemCount returns the number of completed items for scraper.
func (s *Store) ItemCount(ctx context.Context, scraper string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM scraped_items WHERE scraper_name = ?`, scraper); err != nil {
		return 0, fmt.Errorf("checkpoint: count %s: %w", scraper, err)
	}
	return n, nil
}

// Reset forgets all progress and items for scraper.
func (s *Store) Reset(ctx context.Context, scraper string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("checkpoint: begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM scraped_items WHERE scraper_name = ?`, scraper); err != nil {
		return fmt.Errorf("checkpoint: reset items %s: %w", scraper, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scrape_progress WHERE scraper_name = ?`, scraper); err != nil {
		return fmt.Errorf("checkpoint: reset progress %s: %w", scraper, err)
	}
	return tx.Commit()
}
