package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goodtune/skilltrack/internal/storage"
)

type recordStore struct {
	db *sql.DB
}

func (s *recordStore) Get(ctx context.Context, date string) (*storage.DailyRecord, error) {
	var record storage.DailyRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT video_time, interaction_time, total_time
		FROM daily_records WHERE date = ?
	`, date).Scan(&record.VideoTime, &record.InteractionTime, &record.TotalTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get day %s: %w", date, err)
	}
	return &record, nil
}

func (s *recordStore) List(ctx context.Context) (storage.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, video_time, interaction_time, total_time FROM daily_records
	`)
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dataset := make(storage.Dataset)
	for rows.Next() {
		var date string
		var record storage.DailyRecord
		if err := rows.Scan(&date, &record.VideoTime, &record.InteractionTime, &record.TotalTime); err != nil {
			return nil, fmt.Errorf("scan day: %w", err)
		}
		dataset[date] = record
	}
	return dataset, rows.Err()
}

func (s *recordStore) Add(ctx context.Context, date string, delta storage.DailyRecord) (*storage.DailyRecord, error) {
	var totals storage.DailyRecord
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO daily_records (date, video_time, interaction_time, total_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			video_time = video_time + excluded.video_time,
			interaction_time = interaction_time + excluded.interaction_time,
			total_time = total_time + excluded.total_time,
			updated_at = CURRENT_TIMESTAMP
		RETURNING video_time, interaction_time, total_time
	`, date, delta.VideoTime, delta.InteractionTime, delta.TotalTime).
		Scan(&totals.VideoTime, &totals.InteractionTime, &totals.TotalTime)
	if err != nil {
		return nil, fmt.Errorf("add to day %s: %w", date, err)
	}
	return &totals, nil
}

func (s *recordStore) MergeMax(ctx context.Context, dataset storage.Dataset) error {
	if len(dataset) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_records (date, video_time, interaction_time, total_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			video_time = MAX(video_time, excluded.video_time),
			interaction_time = MAX(interaction_time, excluded.interaction_time),
			total_time = MAX(total_time, excluded.total_time),
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare merge: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, date := range dataset.Dates() {
		record := dataset[date]
		if _, err := stmt.ExecContext(ctx, date, record.VideoTime, record.InteractionTime, record.TotalTime); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("merge day %s: %w", date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}
