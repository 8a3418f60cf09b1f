package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dotheaven/heaven-core/internal/common"
	"github.com/dotheaven/heaven-core/internal/dbx"
)

// UploadedRepository stores and looks up uploaded-content records.
type UploadedRepository interface {
	// Upsert inserts a record or updates the existing one for the same
	// owner and content id.
	Upsert(ctx context.Context, rec *UploadedRecord) error

	// GetByContentID returns the record for an owner and content id, or
	// common.ErrNotFound.
	GetByContentID(ctx context.Context, owner, contentID string) (*UploadedRecord, error)

	// GetByPath returns the newest record for a local file path, or
	// common.ErrNotFound.
	GetByPath(ctx context.Context, owner, filePath string) (*UploadedRecord, error)

	// MarkSavedForever flips the saved-forever flag for a content id.
	MarkSavedForever(ctx context.Context, owner, contentID string) error
}

// SQLiteUploadedRepository implements UploadedRepository over a DBTX.
type SQLiteUploadedRepository struct {
	db dbx.DBTX
}

func NewSQLiteUploadedRepository(db dbx.DBTX) *SQLiteUploadedRepository {
	return &SQLiteUploadedRepository{db: db}
}

const uploadedColumns = `id, owner_address, content_id, file_path, piece_ref,
	gateway_url, tx_hash, register_version, saved_forever, created_at`

func (r *SQLiteUploadedRepository) Upsert(ctx context.Context, rec *UploadedRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.OwnerAddress = strings.ToLower(rec.OwnerAddress)
	rec.ContentID = strings.ToLower(rec.ContentID)

	query := `INSERT INTO uploaded_content (` + uploadedColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_address, content_id) DO UPDATE SET
			file_path = CASE WHEN excluded.file_path != '' THEN excluded.file_path ELSE file_path END,
			piece_ref = excluded.piece_ref,
			gateway_url = excluded.gateway_url,
			tx_hash = CASE WHEN excluded.tx_hash != '' THEN excluded.tx_hash ELSE tx_hash END,
			register_version = excluded.register_version,
			saved_forever = MAX(saved_forever, excluded.saved_forever)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerAddress, rec.ContentID, rec.FilePath, rec.PieceRef,
		rec.GatewayURL, rec.TxHash, rec.RegisterVersion, rec.SavedForever, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert uploaded record: %w", err)
	}
	return nil
}

func (r *SQLiteUploadedRepository) GetByContentID(ctx context.Context, owner, contentID string) (*UploadedRecord, error) {
	query := `SELECT ` + uploadedColumns + ` FROM uploaded_content
		WHERE owner_address = ? AND content_id = ?`
	row := r.db.QueryRowContext(ctx, query, strings.ToLower(owner), strings.ToLower(contentID))
	return scanUploaded(row)
}

func (r *SQLiteUploadedRepository) GetByPath(ctx context.Context, owner, filePath string) (*UploadedRecord, error) {
	query := `SELECT ` + uploadedColumns + ` FROM uploaded_content
		WHERE owner_address = ? AND file_path = ?
		ORDER BY created_at DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, strings.ToLower(owner), filePath)
	return scanUploaded(row)
}

func (r *SQLiteUploadedRepository) MarkSavedForever(ctx context.Context, owner, contentID string) error {
	query := `UPDATE uploaded_content SET saved_forever = 1
		WHERE owner_address = ? AND content_id = ?`
	res, err := r.db.ExecContext(ctx, query, strings.ToLower(owner), strings.ToLower(contentID))
	if err != nil {
		return fmt.Errorf("failed to mark saved forever: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func scanUploaded(row *sql.Row) (*UploadedRecord, error) {
	rec := &UploadedRecord{}
	err := row.Scan(&rec.ID, &rec.OwnerAddress, &rec.ContentID, &rec.FilePath,
		&rec.PieceRef, &rec.GatewayURL, &rec.TxHash, &rec.RegisterVersion,
		&rec.SavedForever, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return rec, nil
}
