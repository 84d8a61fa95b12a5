package database

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

// StoredEvent is one journal row.
type StoredEvent struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	DetectedAt  time.Time `json:"detected_at"`
	Regions     int       `json:"regions"`
	LargestArea int       `json:"largest_area"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
}

// Record inserts one row per motion event with its delivery outcome.
func (d *Database) Record(ctx context.Context, rec models.EventRecord) error {
	ev := rec.Event
	largest := lo.MaxBy(ev.Regions, func(a, b models.MotionRegion) bool {
		return a.Area > b.Area
	})
	errText := ""
	if rec.DeliveryErr != nil {
		errText = rec.DeliveryErr.Error()
	}

	_, err := d.DB.ExecContext(ctx,
		`INSERT INTO motion_events (id, client_id, detected_at, regions, largest_area, delivered, error)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
		ev.ID,
		ev.ClientID,
		ev.Timestamp.UTC(),
		len(ev.Regions),
		largest.Area,
		rec.Delivered(),
		errText,
	)
	if err != nil {
		return fmt.Errorf("insert motion event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events first.
func (d *Database) RecentEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, client_id, detected_at, regions, largest_area, delivered, error
		FROM motion_events
		ORDER BY detected_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query motion events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(
			&e.ID,
			&e.ClientID,
			&e.DetectedAt,
			&e.Regions,
			&e.LargestArea,
			&e.Delivered,
			&e.Error,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
