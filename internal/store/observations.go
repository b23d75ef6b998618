package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"
)

// ReplaceDay replaces the stored snapshot for one calendar day in a single
// transaction. Re-running for the same day overwrites the prior snapshot;
// each day's rows represent the latest known state for that day.
func (s *Store) ReplaceDay(ctx context.Context, day string, observations []Observation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM observations WHERE day = ?", day); err != nil {
		return fmt.Errorf("failed to clear day %s: %w", day, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO observations (
			day, vehicle_id, route_id, region_id,
			latitude, longitude, deviation_min, captured_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		_, err := stmt.ExecContext(ctx,
			day, obs.VehicleID, obs.RouteID, obs.RegionID,
			obs.Latitude, obs.Longitude, obs.DeviationMin,
			obs.CapturedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert observation for vehicle %s: %w", obs.VehicleID, err)
		}
	}

	return tx.Commit()
}

// ForEachInRange streams every retained observation with startDay <= day
// <= endDay, in day order. Days with no rows are simply absent. The scan
// stops early if fn returns an error; calling again restarts it.
func (s *Store) ForEachInRange(ctx context.Context, startDay, endDay string, fn func(Observation) error) error {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT vehicle_id, route_id, region_id,
			latitude, longitude, deviation_min, captured_at_utc
		FROM observations
		WHERE day >= ? AND day <= ?
		ORDER BY day
	`, startDay, endDay)
	if err != nil {
		return fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var obs Observation
		var capturedAt string
		if err := rows.Scan(
			&obs.VehicleID, &obs.RouteID, &obs.RegionID,
			&obs.Latitude, &obs.Longitude, &obs.DeviationMin, &capturedAt,
		); err != nil {
			return fmt.Errorf("failed to scan observation: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, capturedAt); err == nil {
			obs.CapturedAt = t
		}
		if err := fn(obs); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ReadRange collects all observations in the day range into memory.
func (s *Store) ReadRange(ctx context.Context, startDay, endDay string) ([]Observation, error) {
	var observations []Observation
	err := s.ForEachInRange(ctx, startDay, endDay, func(obs Observation) error {
		observations = append(observations, obs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return observations, nil
}

// EarliestDay returns the oldest retained day key, or "" when the store
// is empty.
func (s *Store) EarliestDay(ctx context.Context) (string, error) {
	var day sql.NullString
	err := s.conn.QueryRowContext(ctx, "SELECT MIN(day) FROM observations").Scan(&day)
	if err != nil {
		return "", fmt.Errorf("failed to query earliest day: %w", err)
	}
	if !day.Valid {
		return "", nil
	}
	return day.String, nil
}

// Cleanup deletes observations and run records older than the retention
// horizon. Readers tolerate the resulting gaps.
func (s *Store) Cleanup(ctx context.Context, retentionDays int, now time.Time) error {
	if retentionDays < 1 {
		retentionDays = 1
	}
	cutoff := DayOf(now.AddDate(0, 0, -retentionDays))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.conn.ExecContext(ctx, "DELETE FROM observations WHERE day < ?", cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup observations: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM runs WHERE day < ?", cutoff); err != nil {
		return fmt.Errorf("failed to cleanup runs: %w", err)
	}

	if deleted, _ := result.RowsAffected(); deleted > 0 {
		log.Printf("Cleanup: deleted %d observations older than %s", deleted, cutoff)
	}
	return nil
}

// RecordRun records a successful pipeline run.
func (s *Store) RecordRun(ctx context.Context, runID string, ranAt time.Time, day string, fetched, classified int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO runs (run_id, ran_at_utc, day, positions_fetched, classified)
		VALUES (?, ?, ?, ?, ?)
	`, runID, ranAt.UTC().Format(time.RFC3339), day, fetched, classified)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LastRun returns the timestamp of the most recent successful run, or the
// zero time when no run has completed yet.
func (s *Store) LastRun(ctx context.Context) (time.Time, error) {
	var ranAt sql.NullString
	err := s.conn.QueryRowContext(ctx, "SELECT MAX(ran_at_utc) FROM runs").Scan(&ranAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last run: %w", err)
	}
	if !ranAt.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, ranAt.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last run timestamp: %w", err)
	}
	return t, nil
}
