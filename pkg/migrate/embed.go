package migrate

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

// EmbeddedDir is the directory name inside Embedded.
const EmbeddedDir = "migrations"

//go:embed migrations/*.sql
var Embedded embed.FS

// Source resolves dir to a filesystem whose root holds the .sql files.
// EmbeddedDir selects the compiled-in set; anything else is read from disk.
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if dir == EmbeddedDir {
		return fs.Sub(Embedded, EmbeddedDir)
	}
	return os.DirFS(dir), nil
}
