package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotheaven/heaven-core/internal/dbx"
)

// GrantRepository is the append-only grant log.
type GrantRepository interface {
	// Append records one grant.
	Append(ctx context.Context, rec *GrantRecord) error

	// ListByContentID returns grants for a content id, newest first.
	ListByContentID(ctx context.Context, contentID string) ([]GrantRecord, error)

	// ListByGrantee returns grants made to a recipient, newest first.
	ListByGrantee(ctx context.Context, grantee string) ([]GrantRecord, error)
}

// SQLiteGrantRepository implements GrantRepository over a DBTX.
type SQLiteGrantRepository struct {
	db dbx.DBTX
}

func NewSQLiteGrantRepository(db dbx.DBTX) *SQLiteGrantRepository {
	return &SQLiteGrantRepository{db: db}
}

const grantColumns = `id, owner_address, grantee_address, content_id, piece_ref,
	gateway_url, tx_hash, mirror_tx_hash, shared_at`

func (r *SQLiteGrantRepository) Append(ctx context.Context, rec *GrantRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SharedAt.IsZero() {
		rec.SharedAt = time.Now().UTC()
	}
	rec.OwnerAddress = strings.ToLower(rec.OwnerAddress)
	rec.GranteeAddress = strings.ToLower(rec.GranteeAddress)
	rec.ContentID = strings.ToLower(rec.ContentID)

	query := `INSERT INTO grants (` + grantColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerAddress, rec.GranteeAddress, rec.ContentID, rec.PieceRef,
		rec.GatewayURL, rec.TxHash, rec.MirrorTxHash, rec.SharedAt)
	if err != nil {
		return fmt.Errorf("failed to append grant record: %w", err)
	}
	return nil
}

func (r *SQLiteGrantRepository) ListByContentID(ctx context.Context, contentID string) ([]GrantRecord, error) {
	query := `SELECT ` + grantColumns + ` FROM grants
		WHERE content_id = ? ORDER BY shared_at DESC`
	return r.list(ctx, query, strings.ToLower(contentID))
}

func (r *SQLiteGrantRepository) ListByGrantee(ctx context.Context, grantee string) ([]GrantRecord, error) {
	query := `SELECT ` + grantColumns + ` FROM grants
		WHERE grantee_address = ? ORDER BY shared_at DESC`
	return r.list(ctx, query, strings.ToLower(grantee))
}

func (r *SQLiteGrantRepository) list(ctx context.Context, query string, arg any) ([]GrantRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select grants: %w", err)
	}
	defer rows.Close()

	var result []GrantRecord
	for rows.Next() {
		var rec GrantRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerAddress, &rec.GranteeAddress,
			&rec.ContentID, &rec.PieceRef, &rec.GatewayURL, &rec.TxHash,
			&rec.MirrorTxHash, &rec.SharedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
