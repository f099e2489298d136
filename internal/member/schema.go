package member

import (
	"context"
	"database/sql"
	"embed"

	"github.com/nao1215/msagate/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// OpenDB はSQLiteデータベースを開き、メンバーテーブルのマイグレーションを適用する。
// pathに":memory:"を指定した場合はプロセス内のみのデータベースとなる。
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	return migration.OpenSQLite(ctx, path, migrationsFS, "migrations")
}
