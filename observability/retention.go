package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RetentionConfig specifies per-table retention in days. Zero disables
// cleanup for that table.
type RetentionConfig struct {
	EventsDays      int  `yaml:"events_days" json:"events_days"`
	RequestLogsDays int  `yaml:"request_logs_days" json:"request_logs_days"`
	RunVacuumAfter  bool `yaml:"vacuum" json:"vacuum"`
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	// Table and column names are whitelisted so this pattern stays safe
	// if it is ever refactored to accept external input.
	allowed := map[string]bool{
		"verification_events": true,
		"request_logs":        true,
	}
	targets := []struct {
		table string
		days  int
	}{
		{"verification_events", cfg.EventsDays},
		{"request_logs", cfg.RequestLogsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if !allowed[t.table] {
			return fmt.Errorf("observability: cleanup: invalid table %s", t.table)
		}
		cutoff := now - int64(t.days)*86400
		q := fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", t.table)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}
