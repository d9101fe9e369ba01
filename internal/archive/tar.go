package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// ErrEmptyDir is returned by TarGzDir when the source directory is missing
// or holds no regular files.
var ErrEmptyDir = errors.New("no files to archive")

// TarGzDir writes srcDir into a tar.gz at dest. Entries are stored under the
// base name of srcDir, so extracting the archive recreates that directory.
// It returns the number of files archived.
func TarGzDir(srcDir, dest string) (int, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, ErrEmptyDir
		}
		return 0, fmt.Errorf("stat %s: %w", srcDir, err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", srcDir)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", dest, err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	base := filepath.Base(srcDir)
	parent := filepath.Dir(srcDir)
	files := 0

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() && !fi.IsDir() {
			return nil
		}

		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if fi.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		files++
		return nil
	})

	closeErr := errors.Join(tw.Close(), gz.Close(), out.Close())
	if walkErr != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("archive %s: %w", base, walkErr)
	}
	if closeErr != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("finish archive %s: %w", dest, closeErr)
	}
	if files == 0 {
		os.Remove(dest)
		return 0, ErrEmptyDir
	}
	return files, nil
}

// ListTarGz returns the regular file names stored in a tar.gz stream.
func ListTarGz(r io.Reader) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
	return names, nil
}
