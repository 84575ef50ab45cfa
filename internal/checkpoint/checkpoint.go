// Package checkpoint persists the latest registry snapshot to SQLite so a
// restarted exporter serves its last known values instead of nothing.
// Only one snapshot is kept; this is not a history store.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// Store is a SQLite-backed snapshot checkpoint.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the checkpoint database at path and applies the
// schema. The caller must Close it.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS series (
    key        TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    labels     TEXT NOT NULL,
    kind       TEXT NOT NULL,
    help       TEXT NOT NULL,
    value      TEXT NOT NULL,
    structured TEXT,
    ts         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_meta (
    id       INTEGER PRIMARY KEY CHECK (id = 1),
    taken_at INTEGER NOT NULL
);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create checkpoint tables: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot with snap in a single transaction.
func (s *Store) Save(ctx context.Context, snap models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM series`); err != nil {
		return fmt.Errorf("clear series: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO series (key, name, labels, kind, help, value, structured, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range snap.Samples {
		row, err := encodeRow(sample)
		if err != nil {
			return fmt.Errorf("encode %s: %w", sample.Identity, err)
		}
		if _, err := stmt.ExecContext(ctx, row.key, row.name, row.labels, row.kind, row.help, row.value, row.structured, row.ts); err != nil {
			return fmt.Errorf("exec insert for %s: %w", sample.Identity, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (id, taken_at) VALUES (1, ?) ON CONFLICT(id) DO UPDATE SET taken_at = excluded.taken_at`,
		snap.TakenAt.UnixNano()); err != nil {
		return fmt.Errorf("update snapshot time: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("Checkpoint saved", zap.Time("taken_at", snap.TakenAt), zap.Int("series", snap.Len()))
	return nil
}

// Load returns the stored snapshot. An empty store yields an empty snapshot.
// Rows that cannot be decoded are skipped with a warning.
func (s *Store) Load(ctx context.Context) (models.Snapshot, error) {
	var takenAt int64
	err := s.db.QueryRowContext(ctx, `SELECT taken_at FROM snapshot_meta WHERE id = 1`).Scan(&takenAt)
	switch {
	case err == sql.ErrNoRows:
		return models.Snapshot{}, nil
	case err != nil:
		return models.Snapshot{}, fmt.Errorf("read snapshot time: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, name, labels, kind, help, value, structured, ts FROM series`)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	var samples []models.Sample
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.key, &r.name, &r.labels, &r.kind, &r.help, &r.value, &r.structured, &r.ts); err != nil {
			return models.Snapshot{}, fmt.Errorf("scan series: %w", err)
		}
		sample, err := r.decode()
		if err != nil {
			s.logger.Warn("Skipping unreadable checkpoint row", zap.String("series", r.key), zap.Error(err))
			continue
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return models.Snapshot{}, fmt.Errorf("iterate series: %w", err)
	}
	return models.NewSnapshot(time.Unix(0, takenAt), samples), nil
}

// Close shuts down the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type row struct {
	key, name, labels, kind, help, value string
	structured                           sql.NullString
	ts                                   int64
}

// Floats are stored as text: SQLite turns NaN into NULL and JSON has no
// encoding for non-finite numbers.
type point struct {
	At    string `json:"at"`
	Value string `json:"value"`
}

type structured struct {
	Count  uint64  `json:"count"`
	Sum    string  `json:"sum"`
	Points []point `json:"points"`
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func encodeRow(s models.Sample) (row, error) {
	labels, err := json.Marshal(s.Identity.LabelMap())
	if err != nil {
		return row{}, err
	}
	r := row{
		key:    s.Identity.Key(),
		name:   s.Identity.Name(),
		labels: string(labels),
		kind:   s.Kind.String(),
		help:   s.Help,
		value:  formatFloat(s.Value),
		ts:     s.Timestamp.UnixNano(),
	}

	var st *structured
	switch {
	case s.Histogram != nil:
		st = &structured{Count: s.Histogram.Count, Sum: formatFloat(s.Histogram.Sum)}
		for bound, count := range s.Histogram.Buckets {
			st.Points = append(st.Points, point{At: formatFloat(bound), Value: strconv.FormatUint(count, 10)})
		}
	case s.Summary != nil:
		st = &structured{Count: s.Summary.Count, Sum: formatFloat(s.Summary.Sum)}
		for q, v := range s.Summary.Quantiles {
			st.Points = append(st.Points, point{At: formatFloat(q), Value: formatFloat(v)})
		}
	}
	if st != nil {
		b, err := json.Marshal(st)
		if err != nil {
			return row{}, err
		}
		r.structured = sql.NullString{String: string(b), Valid: true}
	}
	return r, nil
}

func (r row) decode() (models.Sample, error) {
	kind, err := models.ParseKind(r.kind)
	if err != nil {
		return models.Sample{}, err
	}
	var labels map[string]string
	if err := json.Unmarshal([]byte(r.labels), &labels); err != nil {
		return models.Sample{}, fmt.Errorf("labels: %w", err)
	}
	value, err := strconv.ParseFloat(r.value, 64)
	if err != nil {
		return models.Sample{}, fmt.Errorf("value: %w", err)
	}
	s := models.Sample{
		Identity:  models.NewIdentity(r.name, labels),
		Kind:      kind,
		Help:      r.help,
		Value:     value,
		Timestamp: time.Unix(0, r.ts),
	}
	if !r.structured.Valid {
		return s, nil
	}

	var st structured
	if err := json.Unmarshal([]byte(r.structured.String), &st); err != nil {
		return models.Sample{}, fmt.Errorf("structured value: %w", err)
	}
	sum, err := strconv.ParseFloat(st.Sum, 64)
	if err != nil {
		return models.Sample{}, fmt.Errorf("sum: %w", err)
	}
	switch kind {
	case models.KindHistogram:
		h := &models.HistogramValue{Count: st.Count, Sum: sum, Buckets: make(map[float64]uint64, len(st.Points))}
		for _, p := range st.Points {
			bound, err := strconv.ParseFloat(p.At, 64)
			if err != nil {
				return models.Sample{}, fmt.Errorf("bucket bound: %w", err)
			}
			count, err := strconv.ParseUint(p.Value, 10, 64)
			if err != nil {
				return models.Sample{}, fmt.Errorf("bucket count: %w", err)
			}
			h.Buckets[bound] = count
		}
		s.Histogram = h
	case models.KindSummary:
		q := &models.SummaryValue{Count: st.Count, Sum: sum, Quantiles: make(map[float64]float64, len(st.Points))}
		for _, p := range st.Points {
			quantile, err := strconv.ParseFloat(p.At, 64)
			if err != nil {
				return models.Sample{}, fmt.Errorf("quantile: %w", err)
			}
			v, err := strconv.ParseFloat(p.Value, 64)
			if err != nil {
				return models.Sample{}, fmt.Errorf("quantile value: %w", err)
			}
			q.Quantiles[quantile] = v
		}
		s.Summary = q
	}
	return s, nil
}
