package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/models"
)

const (
	pgLogQueueSize     = 256
	pgLogBatchSize     = 50
	pgLogFlushInterval = 5 * time.Second
)

// PGHandler is an slog.Handler that persists ERROR+ records to the
// system_logs table. Records are queued on a channel and written in
// batches by a single writer goroutine, so request paths never block on
// the database. When the queue is full the record is dropped rather
// than stalling the caller.
type PGHandler struct {
	db      *gorm.DB
	queue   chan models.SystemLog
	drained chan struct{}
}

func NewPGHandler(db *gorm.DB) *PGHandler {
	h := &PGHandler{
		db:      db,
		queue:   make(chan models.SystemLog, pgLogQueueSize),
		drained: make(chan struct{}),
	}
	go h.writeLoop()
	return h
}

func (h *PGHandler) writeLoop() {
	defer close(h.drained)

	ticker := time.NewTicker(pgLogFlushInterval)
	defer ticker.Stop()

	batch := make([]models.SystemLog, 0, pgLogBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := h.db.CreateInBatches(batch, pgLogBatchSize).Error; err != nil {
			// Info, not Error: an Error here would re-enter this handler
			// while the database is down.
			slog.Info("system log batch write failed", "error", err, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-h.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= pgLogBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Stop closes the queue and waits for the remaining records to be
// written.
func (h *PGHandler) Stop() {
	close(h.queue)
	<-h.drained
}

func (h *PGHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *PGHandler) Handle(_ context.Context, record slog.Record) error {
	select {
	case h.queue <- toSystemLog(record):
	default:
		// Queue full; losing a log row beats blocking the request.
	}
	return nil
}

func toSystemLog(record slog.Record) models.SystemLog {
	entry := models.SystemLog{
		ID:        uuid.New(),
		Timestamp: record.Time,
		Level:     record.Level.String(),
		Message:   record.Message,
	}

	extra := make(map[string]interface{})
	record.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "trace_id":
			entry.TraceID = a.Value.String()
		case "user_id":
			s := a.Value.String()
			entry.UserID = &s
		case "action":
			entry.Action = a.Value.String()
		case "error":
			entry.Error = a.Value.String()
		case "latency_ms":
			if f, ok := a.Value.Any().(float64); ok {
				entry.LatencyMs = int(math.Round(f))
			}
		default:
			extra[a.Key] = a.Value.Any()
		}
		return true
	})

	if len(extra) > 0 {
		if b, err := json.Marshal(extra); err == nil {
			entry.Extra = datatypes.JSON(b)
		}
	}
	return entry
}

func (h *PGHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }

func (h *PGHandler) WithGroup(name string) slog.Handler { return h }
