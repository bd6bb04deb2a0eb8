package auth

import (
	"embed"
	"io/fs"
	"path"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// MigrationsFor returns the migrations of a single dialect ("sqlite" or "postgres").
func MigrationsFor(dialectDir string) (fs.FS, error) {
	return fs.Sub(migrationsFS, path.Join("data/sql/migrations", dialectDir))
}
