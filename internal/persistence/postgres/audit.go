// Package postgres implements the domain store contracts on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRecorder appends before/after images of sensitive writes to an
// append-only log. Recording is best effort: a failed audit write is logged
// and never fails the write it describes.
type AuditRecorder struct {
	pool   *pgxpool.Pool
	logger *log.Logger
	now    func() time.Time
}

// NewAuditRecorder constructs an AuditRecorder.
func NewAuditRecorder(pool *pgxpool.Pool, logger *log.Logger) *AuditRecorder {
	if logger == nil {
		logger = log.Default()
	}
	return &AuditRecorder{pool: pool, logger: logger, now: time.Now}
}

// Record appends one audit entry. Nil images are stored as SQL NULL.
func (a *AuditRecorder) Record(ctx context.Context, userID, subject, action string, before, after any) {
	if a == nil {
		return
	}

	beforeJSON, err := marshalImage(before)
	if err != nil {
		a.logger.Printf("audit: marshal before image for %s/%s: %v", subject, userID, err)
		return
	}
	afterJSON, err := marshalImage(after)
	if err != nil {
		a.logger.Printf("audit: marshal after image for %s/%s: %v", subject, userID, err)
		return
	}

	const stmt = `INSERT INTO audit_log (entry_id, user_id, subject, action, before, after, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	if _, err := a.pool.Exec(ctx, stmt, uuid.NewString(), userID, subject, action, beforeJSON, afterJSON, a.now().UTC()); err != nil {
		a.logger.Printf("audit: record %s %s for %s: %v", action, subject, userID, err)
	}
}

func marshalImage(image any) ([]byte, error) {
	if image == nil {
		return nil, nil
	}
	return json.Marshal(image)
}
