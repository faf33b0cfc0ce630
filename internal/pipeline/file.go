package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docflowd/docflow/internal/models"
)

// FileConnector ingests a local file or every matching file under a local
// directory. The source URI is a plain path; an optional "extensions" list
// in the ingest config narrows which files count.
type FileConnector struct{}

func (FileConnector) Type() models.SourceType { return models.SourceFile }

func (FileConnector) Fetch(ctx context.Context, src *models.DocSource, emit EmitFunc, progress ProgressFunc) error {
	root := strings.TrimPrefix(src.URI, "file://")
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat source %s: %w", root, err)
	}

	var paths []string
	if info.IsDir() {
		exts := allowedExtensions(src.IngestConfig)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			if len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return fmt.Errorf("walk %s: %w", root, err)
		}
	} else {
		paths = []string{root}
	}

	slog.Debug("file connector walking", "root", root, "files", len(paths))

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if err := emit(ctx, Artifact{OriginalURI: "file://" + abs, Data: data}); err != nil {
			return err
		}
		report(progress, float64(i+1)/float64(len(paths)))
	}
	return nil
}

func allowedExtensions(cfg map[string]any) map[string]bool {
	raw, ok := cfg["extensions"].([]any)
	if !ok {
		return nil
	}
	exts := make(map[string]bool, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		exts[strings.ToLower(s)] = true
	}
	return exts
}
