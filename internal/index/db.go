package index

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dotheaven/heaven-core/internal/index/migrations"
)

// Repositories bundles the index repositories over one database.
type Repositories struct {
	Uploaded UploadedRepository
	Grants   GrantRepository
	DB       *sql.DB
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the sqlite index, migrates it, and wires the
// repositories.
func InitDatabase(ctx context.Context, dsn string) (*Repositories, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repositories{
		Uploaded: NewSQLiteUploadedRepository(db),
		Grants:   NewSQLiteGrantRepository(db),
		DB:       db,
	}, nil
}
