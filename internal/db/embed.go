package db

import (
	"embed"
	"io/fs"
	"os"
)

// DevMode switches migration loading from the compiled-in copy to the on-disk
// migrations tree, so schema changes can be iterated without rebuilding.
var DevMode = false

//go:embed migrations
var migrationsFS embed.FS

// getMigrationsFS returns a filesystem rooted at the directory containing the
// .sql migration files.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/db/migrations"), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}
