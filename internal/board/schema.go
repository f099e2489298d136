package board

import (
	"context"
	"database/sql"
	"embed"

	"github.com/nao1215/msagate/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// OpenDB はSQLiteデータベースを開き、投稿テーブルのマイグレーションを適用する。
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	return migration.OpenSQLite(ctx, path, migrationsFS, "migrations")
}
