package archive_zip

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/klauspost/compress/zip"
)

type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract writes every regular member accepted by keep into dir, flattened to
// its base name. Member paths are never joined as-is, so archive entries
// cannot escape dir.
func (Extractor) Extract(archive, dir string, keep func(name string) bool) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, &domain.ExtractError{Archive: archive, Err: err}
	}
	defer func() { _ = zr.Close() }()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var out []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !f.Mode().IsRegular() {
			continue
		}
		name := path.Base(f.Name)
		if name == "." || name == "/" || name == ".." {
			continue
		}
		if keep != nil && !keep(name) {
			continue
		}

		dst := filepath.Join(dir, name)
		if err := extractFile(f, dst); err != nil {
			return out, &domain.ExtractError{Archive: archive, Err: fmt.Errorf("%s: %w", f.Name, err)}
		}
		out = append(out, dst)
	}

	return out, nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	w, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(w, rc); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
