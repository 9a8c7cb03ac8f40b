// Package results keeps measurement records in a local SQLite file or a
// shared Postgres database.
package results

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/saveenergy/netgauge/internal/logging"
	"github.com/saveenergy/netgauge/pkg/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	retentionDays   = 90
	cleanupInterval = 1 * time.Hour
	idLength        = 8
	idCharset       = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxIDRetries    = 5
)

// ErrStoreRetryable marks failures caused by a busy or locked database.
var ErrStoreRetryable = errors.New("results store busy")

// Store implements measure.Persister.
type Store struct {
	db         *sql.DB
	driver     string
	maxResults int
	logger     *logging.Logger
	newID      func() (string, error)
	every      time.Duration
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// Open connects to driver ("sqlite" or "postgres"), creates the schema and
// trims old records. With background set, trimming also runs hourly until
// Close.
func Open(ctx context.Context, driver, dsn string, maxResults int, background bool) (*Store, error) {
	sqlDriver := driver
	switch driver {
	case DriverSQLite:
	case DriverPostgres:
		sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported results driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(3)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// modernc.org/sqlite requires explicit PRAGMAs (not query-string params)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	s := &Store{
		db:         db,
		driver:     driver,
		maxResults: maxResults,
		logger:     logging.NewLogger("results"),
		newID:      generateID,
		every:      cleanupInterval,
		stopCh:     make(chan struct{}),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.cleanup(ctx)

	if background {
		s.startCleanup()
	}
	return s, nil
}

func (s *Store) startCleanup() {
	s.wg.Add(1)
	go s.cleanupLoop()
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if err := s.db.Close(); err != nil {
			s.logger.Warn("close failed", logging.F("error", err))
		}
	})
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		ext_ip TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL,
		download_time TEXT NOT NULL DEFAULT '',
		download_duration TEXT NOT NULL DEFAULT '',
		download_mbps INTEGER NOT NULL,
		upload_time TEXT NOT NULL DEFAULT '',
		upload_duration TEXT NOT NULL DEFAULT '',
		upload_mbps INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at)`)
	return err
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Save stores r under r.ID, or under a fresh short ID when r.ID is empty,
// and returns the key used.
func (s *Store) Save(ctx context.Context, r types.Record) (string, error) {
	createdAt := r.CreatedAt.UTC()
	if r.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	fixedID := r.ID != ""
	for attempt := 0; attempt < maxIDRetries; attempt++ {
		id := r.ID
		if !fixedID {
			var err error
			if id, err = s.newID(); err != nil {
				return "", fmt.Errorf("generate id: %w", err)
			}
		}

		_, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO results (id, ext_ip, latency_ms, download_time, download_duration,
				download_mbps, upload_time, upload_duration, upload_mbps, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			id, r.ExternalIP, r.LatencyMs, r.DownloadTime, r.DownloadDuration,
			r.DownloadMbps, r.UploadTime, r.UploadDuration, r.UploadMbps,
			createdAt,
		)
		if err != nil {
			if isUniqueViolation(err) && !fixedID {
				s.logger.Debug("id collision, retrying", logging.F("id", id))
				continue
			}
			if isBusy(err) {
				return "", errors.Join(ErrStoreRetryable, err)
			}
			return "", fmt.Errorf("insert result: %w", err)
		}
		return id, nil
	}
	return "", fmt.Errorf("failed to generate unique ID after %d attempts", maxIDRetries)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "SQLSTATE 23505")
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Get returns the record stored under id, or nil when there is none.
func (s *Store) Get(ctx context.Context, id string) (*types.Record, error) {
	var r types.Record
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, ext_ip, latency_ms, download_time, download_duration,
			download_mbps, upload_time, upload_duration, upload_mbps, created_at
		FROM results WHERE id = ?`), id,
	).Scan(&r.ID, &r.ExternalIP, &r.LatencyMs, &r.DownloadTime, &r.DownloadDuration,
		&r.DownloadMbps, &r.UploadTime, &r.UploadDuration, &r.UploadMbps,
		&r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isBusy(err) {
			return nil, errors.Join(ErrStoreRetryable, err)
		}
		return nil, fmt.Errorf("query result: %w", err)
	}
	return &r, nil
}

func (s *Store) cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionDays * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM results WHERE created_at < ?`), cutoff)
	if err != nil {
		s.logger.Warn("cleanup (age) failed", logging.F("error", err))
	} else if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("cleanup: removed expired", logging.F("count", n))
	}

	// Trim to max count, keeping newest
	if s.maxResults > 0 {
		res, err = s.db.ExecContext(ctx, s.rebind(
			`DELETE FROM results WHERE id NOT IN (
				SELECT id FROM results ORDER BY created_at DESC LIMIT ?
			)`), s.maxResults)
		if err != nil {
			s.logger.Warn("cleanup (count) failed", logging.F("error", err))
		} else if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Info("cleanup: trimmed to max",
				logging.F("removed", n),
				logging.F("max", s.maxResults))
		}
	}
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup(context.Background())
		}
	}
}

func generateID() (string, error) {
	var entropy [idLength]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return "", err
	}
	b := make([]byte, idLength)
	for i, v := range entropy {
		b[i] = idCharset[int(v)%len(idCharset)]
	}
	return string(b), nil
}
