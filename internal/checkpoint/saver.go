package checkpoint

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Guliveer/vitalis/exporter/internal/models"
)

// Source provides the snapshots to persist.
type Source interface {
	Snapshot() models.Snapshot
}

// Recorder is told about every save attempt.
type Recorder interface {
	CheckpointSaved(err error)
}

type nopRecorder struct{}

func (nopRecorder) CheckpointSaved(error) {}

// Saver writes a snapshot every interval and once more when stopped.
type Saver struct {
	store    *Store
	source   Source
	interval time.Duration
	clock    clock.Clock
	recorder Recorder
	logger   *zap.Logger
}

// NewSaver creates a periodic saver. rec and clk may be nil.
func NewSaver(store *Store, source Source, interval time.Duration, rec Recorder, clk clock.Clock, logger *zap.Logger) *Saver {
	if rec == nil {
		rec = nopRecorder{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{store: store, source: source, interval: interval, clock: clk, recorder: rec, logger: logger}
}

// Run saves on every tick until ctx is done, then saves a final time.
func (s *Saver) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// ctx is already cancelled; the final write gets its own deadline.
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.SaveNow(final)
		case <-ticker.C:
			_ = s.SaveNow(ctx)
		}
	}
}

// SaveNow persists the current snapshot immediately.
func (s *Saver) SaveNow(ctx context.Context) error {
	err := s.store.Save(ctx, s.source.Snapshot())
	s.recorder.CheckpointSaved(err)
	if err != nil {
		s.logger.Warn("Failed to save checkpoint", zap.Error(err))
	}
	return err
}
