package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/stravasync/internal/domain"
)

const (
	profileSubject        = "athlete_profile"
	uniqueViolationCode   = "23505"
	profileColumns        = `user_id, strava_athlete_id, username, firstname, lastname, bio, city, state, country, sex, premium, summit, weight, profile_medium, profile, webhook_onboarded, created_at, updated_at`
	profilePlaceholders   = `$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18`
	selectProfileByUserID = `SELECT ` + profileColumns + ` FROM athlete_profiles WHERE user_id=$1`
)

// ProfileStore persists athlete profiles. The unique index on the athlete id
// enforces one-user-per-athlete; the store surfaces that as ErrAthleteConflict.
type ProfileStore struct {
	pool  *pgxpool.Pool
	audit *AuditRecorder
	now   func() time.Time
}

// NewProfileStore constructs a ProfileStore.
func NewProfileStore(pool *pgxpool.Pool, audit *AuditRecorder) *ProfileStore {
	return &ProfileStore{pool: pool, audit: audit, now: time.Now}
}

// Put upserts the profile for its user. When the athlete id is already bound
// to a different user the write fails with ErrAthleteConflict and the first
// binding stands.
func (s *ProfileStore) Put(ctx context.Context, profile domain.AthleteProfile) (bool, error) {
	boundUser, err := s.UserIDByAthleteID(ctx, profile.AthleteID)
	if err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
		return false, err
	}
	if err == nil && boundUser != profile.UserID {
		return false, domain.ErrAthleteConflict
	}

	before, err := s.Get(ctx, profile.UserID)
	if err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
		return false, err
	}

	now := s.now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	const stmt = `INSERT INTO athlete_profiles (` + profileColumns + `)
        VALUES (` + profilePlaceholders + `)
        ON CONFLICT (user_id) DO UPDATE SET
            strava_athlete_id = EXCLUDED.strava_athlete_id,
            username = EXCLUDED.username,
            firstname = EXCLUDED.firstname,
            lastname = EXCLUDED.lastname,
            bio = EXCLUDED.bio,
            city = EXCLUDED.city,
            state = EXCLUDED.state,
            country = EXCLUDED.country,
            sex = EXCLUDED.sex,
            premium = EXCLUDED.premium,
            summit = EXCLUDED.summit,
            weight = EXCLUDED.weight,
            profile_medium = EXCLUDED.profile_medium,
            profile = EXCLUDED.profile,
            webhook_onboarded = EXCLUDED.webhook_onboarded,
            updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, stmt, profileArgs(profile)...); err != nil {
		// Backstop for racing first-time bindings of the same athlete id.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return false, domain.ErrAthleteConflict
		}
		return false, err
	}

	created := before == nil
	action := "UPDATE"
	var beforeImage any
	if created {
		action = "CREATE"
	} else {
		beforeImage = before
	}
	s.audit.Record(ctx, profile.UserID, profileSubject, action, beforeImage, profile)
	return created, nil
}

// Get retrieves the profile for a user.
func (s *ProfileStore) Get(ctx context.Context, userID string) (*domain.AthleteProfile, error) {
	profile, err := scanProfile(s.pool.QueryRow(ctx, selectProfileByUserID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}
	return profile, nil
}

// Update applies the set fields of the update to the stored profile and
// returns the result. An empty update reads and returns the current profile.
func (s *ProfileStore) Update(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.AthleteProfile, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	profile, err := scanProfile(tx.QueryRow(ctx, selectProfileByUserID+` FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, err
	}

	if update.Empty() {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return profile, nil
	}

	before := *profile
	update.Apply(profile)
	profile.UpdatedAt = s.now().UTC()

	const stmt = `UPDATE athlete_profiles SET
            username=$2, firstname=$3, lastname=$4, bio=$5, city=$6, state=$7,
            country=$8, sex=$9, premium=$10, summit=$11, weight=$12,
            profile_medium=$13, profile=$14, webhook_onboarded=$15, updated_at=$16
        WHERE user_id=$1`

	if _, err := tx.Exec(ctx, stmt,
		profile.UserID,
		profile.Username,
		profile.Firstname,
		profile.Lastname,
		profile.Bio,
		profile.City,
		profile.State,
		profile.Country,
		profile.Sex,
		profile.Premium,
		profile.Summit,
		profile.Weight,
		profile.ProfileMedium,
		profile.Profile,
		profile.WebhookOnboarded,
		profile.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, userID, profileSubject, "UPDATE", before, *profile)
	return profile, nil
}

// UserIDByAthleteID resolves which user an athlete id is bound to.
func (s *ProfileStore) UserIDByAthleteID(ctx context.Context, athleteID int64) (string, error) {
	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM athlete_profiles WHERE strava_athlete_id=$1`, athleteID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrProfileNotFound
		}
		return "", err
	}
	return userID, nil
}

func profileArgs(p domain.AthleteProfile) []any {
	return []any{
		p.UserID,
		p.AthleteID,
		p.Username,
		p.Firstname,
		p.Lastname,
		p.Bio,
		p.City,
		p.State,
		p.Country,
		p.Sex,
		p.Premium,
		p.Summit,
		p.Weight,
		p.ProfileMedium,
		p.Profile,
		p.WebhookOnboarded,
		p.CreatedAt,
		p.UpdatedAt,
	}
}

func scanProfile(row pgx.Row) (*domain.AthleteProfile, error) {
	var p domain.AthleteProfile
	if err := row.Scan(
		&p.UserID,
		&p.AthleteID,
		&p.Username,
		&p.Firstname,
		&p.Lastname,
		&p.Bio,
		&p.City,
		&p.State,
		&p.Country,
		&p.Sex,
		&p.Premium,
		&p.Summit,
		&p.Weight,
		&p.ProfileMedium,
		&p.Profile,
		&p.WebhookOnboarded,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}
