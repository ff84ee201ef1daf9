// Package archive extracts downloaded zip payloads.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Unzip extracts every entry of the archive at src into dest and then removes
// src. It returns the paths of the extracted files.
func Unzip(src, dest string) ([]string, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	files, err := extractAll(&zr.Reader, dest)
	if cerr := zr.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close archive: %w", cerr)
	}
	if err != nil {
		return nil, err
	}

	if err := os.Remove(src); err != nil {
		return nil, fmt.Errorf("remove archive: %w", err)
	}
	return files, nil
}

func extractAll(zr *zip.Reader, dest string) ([]string, error) {
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return nil, fmt.Errorf("entry %q escapes destination", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", f.Name, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		files = append(files, target)
	}
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // target is checked against the destination root
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil { //nolint:gosec // payloads are bounded by the source's yearly files
		_ = out.Close()
		return err
	}
	return out.Close()
}
