package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/stravasync/internal/domain"
)

const activityColumns = `user_id, activity_id, name, sport_type, distance, moving_time, elapsed_time, total_elevation_gain, start_date, payload, created_at, updated_at`

// ActivityStore provides Postgres-backed persistence for activity records.
type ActivityStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewActivityStore constructs an ActivityStore.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool, now: time.Now}
}

// Upsert writes the activity document keyed by (user, activity id), replacing
// any previous version wholesale. The returned action reflects whether the row
// existed before the write; concurrent writers may both observe "create" but
// the row converges either way.
func (s *ActivityStore) Upsert(ctx context.Context, userID string, payload json.RawMessage) (*domain.ActivityRecord, domain.Action, error) {
	summary, err := domain.ParseActivitySummary(payload)
	if err != nil {
		return nil, "", err
	}

	action := domain.ActionCreate
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM strava_activities WHERE user_id=$1 AND activity_id=$2)`,
		userID, summary.ID).Scan(&exists)
	if err != nil {
		return nil, "", err
	}
	if exists {
		action = domain.ActionUpdate
	}

	now := s.now().UTC()
	record := domain.ActivityRecord{
		UserID:             userID,
		ActivityID:         summary.ID,
		Name:               summary.Name,
		SportType:          summary.SportType,
		Distance:           summary.Distance,
		MovingTime:         summary.MovingTime,
		ElapsedTime:        summary.ElapsedTime,
		TotalElevationGain: summary.TotalElevationGain,
		StartDate:          summary.StartDate.UTC(),
		Payload:            payload,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	const stmt = `INSERT INTO strava_activities (` + activityColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (user_id, activity_id) DO UPDATE SET
            name = EXCLUDED.name,
            sport_type = EXCLUDED.sport_type,
            distance = EXCLUDED.distance,
            moving_time = EXCLUDED.moving_time,
            elapsed_time = EXCLUDED.elapsed_time,
            total_elevation_gain = EXCLUDED.total_elevation_gain,
            start_date = EXCLUDED.start_date,
            payload = EXCLUDED.payload,
            updated_at = EXCLUDED.updated_at
        RETURNING created_at`

	if err := s.pool.QueryRow(ctx, stmt,
		record.UserID,
		record.ActivityID,
		record.Name,
		record.SportType,
		record.Distance,
		record.MovingTime,
		record.ElapsedTime,
		record.TotalElevationGain,
		record.StartDate,
		record.Payload,
		record.CreatedAt,
		record.UpdatedAt,
	).Scan(&record.CreatedAt); err != nil {
		return nil, "", err
	}

	return &record, action, nil
}

// Get retrieves one activity for the user.
func (s *ActivityStore) Get(ctx context.Context, userID string, activityID int64) (*domain.ActivityRecord, error) {
	const query = `SELECT ` + activityColumns + ` FROM strava_activities WHERE user_id=$1 AND activity_id=$2`

	record, err := scanActivity(s.pool.QueryRow(ctx, query, userID, activityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, err
	}
	return record, nil
}

// List returns one page of the user's activities, newest first, with a cursor
// for the next page when the page filled.
func (s *ActivityStore) List(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT ` + activityColumns + ` FROM strava_activities WHERE user_id=$1`

	if cursor != nil {
		query += ` AND (start_date, activity_id) < ($3, $4)`
		args = append(args, cursor.StartDate, cursor.ActivityID)
	}

	query += ` ORDER BY start_date DESC, activity_id DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ActivityRecord, 0, limit)
	for rows.Next() {
		record, err := scanActivity(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartDate: last.StartDate, ActivityID: last.ActivityID}
	}

	return results, nextCursor, nil
}

// ListIDs returns every stored activity id for the user.
func (s *ActivityStore) ListIDs(ctx context.Context, userID string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT activity_id FROM strava_activities WHERE user_id=$1 ORDER BY activity_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes one activity. It reports whether a row was actually deleted.
func (s *ActivityStore) Delete(ctx context.Context, userID string, activityID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM strava_activities WHERE user_id=$1 AND activity_id=$2`, userID, activityID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanActivity(row pgx.Row) (*domain.ActivityRecord, error) {
	var record domain.ActivityRecord
	if err := row.Scan(
		&record.UserID,
		&record.ActivityID,
		&record.Name,
		&record.SportType,
		&record.Distance,
		&record.MovingTime,
		&record.ElapsedTime,
		&record.TotalElevationGain,
		&record.StartDate,
		&record.Payload,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &record, nil
}
