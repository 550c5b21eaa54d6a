package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/stravasync/internal/crypto"
	"example.com/stravasync/internal/domain"
)

const credentialsSubject = "strava_credentials"

// CredentialStore persists OAuth token bundles with both tokens envelope
// encrypted at rest. Audit entries record the encrypted before/after images,
// never plaintext.
type CredentialStore struct {
	pool      *pgxpool.Pool
	codec     *crypto.Codec
	refresher domain.TokenRefresher
	audit     *AuditRecorder
	logger    *log.Logger
	now       func() time.Time
}

// NewCredentialStore constructs a CredentialStore. The refresher may be nil
// when transparent refresh is not wanted; Fetch then fails closed on expiry.
func NewCredentialStore(pool *pgxpool.Pool, codec *crypto.Codec, refresher domain.TokenRefresher, audit *AuditRecorder, logger *log.Logger) *CredentialStore {
	if logger == nil {
		logger = log.Default()
	}
	return &CredentialStore{
		pool:      pool,
		codec:     codec,
		refresher: refresher,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

type encryptedBundle struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Store encrypts and upserts the bundle for the user.
func (s *CredentialStore) Store(ctx context.Context, userID string, bundle domain.TokenBundle) error {
	encrypted, err := s.encrypt(bundle)
	if err != nil {
		return fmt.Errorf("encrypt credentials: %w", err)
	}

	before, err := s.readEncrypted(ctx, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	now := s.now().UTC()
	const stmt = `INSERT INTO strava_credentials (user_id, token_type, access_token, refresh_token, expires_at, expires_in, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
        ON CONFLICT (user_id) DO UPDATE SET
            token_type = EXCLUDED.token_type,
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            expires_at = EXCLUDED.expires_at,
            expires_in = EXCLUDED.expires_in,
            updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, stmt,
		userID,
		encrypted.TokenType,
		encrypted.AccessToken,
		encrypted.RefreshToken,
		encrypted.ExpiresAt,
		encrypted.ExpiresIn,
		now,
	); err != nil {
		return err
	}

	action := "CREATE"
	var beforeImage any
	if before != nil {
		action = "UPDATE"
		beforeImage = before
	}
	s.audit.Record(ctx, userID, credentialsSubject, action, beforeImage, encrypted)
	return nil
}

// Fetch returns a usable bundle for the user, refreshing transparently when
// the stored one is expired or forceRefresh is set. It fails closed: an
// expired bundle that cannot be refreshed yields ErrCredentialsNotFound.
func (s *CredentialStore) Fetch(ctx context.Context, userID string, forceRefresh bool) (*domain.TokenBundle, error) {
	encrypted, err := s.readEncrypted(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialsNotFound
		}
		return nil, err
	}

	bundle, err := s.decrypt(*encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}

	if !forceRefresh && !bundle.Expired(s.now()) {
		return &bundle, nil
	}

	if s.refresher == nil {
		return nil, domain.ErrCredentialsNotFound
	}

	refreshed, err := s.refresher.Refresh(ctx, bundle.RefreshToken)
	if err != nil {
		s.logger.Printf("credentials: refresh for user %s failed: %v", userID, err)
		return nil, domain.ErrCredentialsNotFound
	}
	if err := s.Store(ctx, userID, refreshed); err != nil {
		return nil, err
	}
	return &refreshed, nil
}

func (s *CredentialStore) readEncrypted(ctx context.Context, userID string) (*encryptedBundle, error) {
	const query = `SELECT token_type, access_token, refresh_token, expires_at, expires_in
        FROM strava_credentials WHERE user_id=$1`

	var e encryptedBundle
	if err := s.pool.QueryRow(ctx, query, userID).Scan(
		&e.TokenType, &e.AccessToken, &e.RefreshToken, &e.ExpiresAt, &e.ExpiresIn,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *CredentialStore) encrypt(bundle domain.TokenBundle) (encryptedBundle, error) {
	access, err := s.codec.Encrypt(bundle.AccessToken)
	if err != nil {
		return encryptedBundle{}, err
	}
	refresh, err := s.codec.Encrypt(bundle.RefreshToken)
	if err != nil {
		return encryptedBundle{}, err
	}
	return encryptedBundle{
		TokenType:    bundle.TokenType,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    bundle.ExpiresAt,
		ExpiresIn:    bundle.ExpiresIn,
	}, nil
}

func (s *CredentialStore) decrypt(e encryptedBundle) (domain.TokenBundle, error) {
	access, err := s.codec.Decrypt(e.AccessToken)
	if err != nil {
		return domain.TokenBundle{}, err
	}
	refresh, err := s.codec.Decrypt(e.RefreshToken)
	if err != nil {
		return domain.TokenBundle{}, err
	}
	return domain.TokenBundle{
		TokenType:    e.TokenType,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    e.ExpiresAt,
		ExpiresIn:    e.ExpiresIn,
	}, nil
}
