package logging

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/models"
)

const (
	logRetention    = 30 * 24 * time.Hour
	cleanupInterval = 24 * time.Hour
)

// StartCleanup prunes persisted system logs past the retention window,
// once a day, until done is closed.
func StartCleanup(db *gorm.DB, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().Add(-logRetention)
				result := db.Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
				if result.Error != nil {
					slog.Error("log cleanup failed", "error", result.Error)
				} else if result.RowsAffected > 0 {
					slog.Info("log cleanup completed", "deleted", result.RowsAffected)
				}
			case <-done:
				return
			}
		}
	}()
}
