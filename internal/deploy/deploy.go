// Package deploy publishes a built dist directory.
//
// GitPublisher force-pushes the tree to a branch of the project's origin
// (gh-pages by default). S3Publisher uploads every file to a bucket.
package deploy

import (
	"context"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/vango-dev/pages/internal/vfs"
)

// Publisher publishes the files below dir.
type Publisher interface {
	Publish(ctx context.Context, dir string) error
}

// file is one regular file of the published tree.
type file struct {
	// Rel is slash-separated and relative to the tree root.
	Rel  string
	Data []byte
}

// collect reads every regular file below dir.
func collect(dir string) ([]file, error) {
	store := vfs.NewDisk(dir)
	var files []file
	err := store.Walk(".", func(name string, info os.FileInfo) error {
		if !info.Mode().IsRegular() {
			return nil
		}
		data, err := store.ReadFile(name)
		if err != nil {
			return err
		}
		files = append(files, file{Rel: filepath.ToSlash(name), Data: data})
		return nil
	})
	return files, err
}

// contentType returns the MIME type for name.
func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".map", ".json":
		return "application/json"
	case "":
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// cacheControl keeps hashed assets forever and revalidates everything else.
func cacheControl(rel string) string {
	if strings.HasPrefix(rel, "_assets/") && !strings.HasSuffix(rel, "manifest.json") {
		return "public, max-age=31536000, immutable"
	}
	return "no-cache"
}
