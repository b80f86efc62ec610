package classload

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// JmodFinder reads class bytes out of a JDK java.base.jmod archive (a zip
// with a 4-byte "JM\x01\x00" header prefix), caching the opened reader.
type JmodFinder struct {
	JmodPath string

	zipData   []byte
	zipReader *zip.Reader
}

func NewJmodFinder(jmodPath string) *JmodFinder {
	return &JmodFinder{JmodPath: jmodPath}
}

func (f *JmodFinder) ensureZipReader() error {
	if f.zipReader != nil {
		return nil
	}
	data, err := os.ReadFile(f.JmodPath)
	if err != nil {
		return errors.Wrapf(err, "reading jmod %s", f.JmodPath)
	}
	if len(data) < 4 {
		return errors.Errorf("jmod %s is too short to contain a header", f.JmodPath)
	}
	f.zipData = data[4:]
	zr, err := zip.NewReader(bytes.NewReader(f.zipData), int64(len(f.zipData)))
	if err != nil {
		return errors.Wrapf(err, "opening jmod %s as zip", f.JmodPath)
	}
	f.zipReader = zr
	return nil
}

func (f *JmodFinder) FindClass(name string) ([]byte, error) {
	if err := f.ensureZipReader(); err != nil {
		return nil, err
	}
	target := "classes/" + name + ".class"
	for _, file := range f.zipReader.File {
		if file.Name != target {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s in jmod", target)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s from jmod", target)
		}
		return data, nil
	}
	return nil, errors.Errorf("class %s not found in %s", name, f.JmodPath)
}

// ChainFinder tries Primary, then falls back to Fallback, used to layer a
// user classpath directory over the bootstrap jmod.
type ChainFinder struct {
	Primary  ClassFinder
	Fallback ClassFinder
}

func (c *ChainFinder) FindClass(name string) ([]byte, error) {
	if c.Primary != nil {
		if data, err := c.Primary.FindClass(name); err == nil {
			return data, nil
		}
	}
	if c.Fallback != nil {
		return c.Fallback.FindClass(name)
	}
	return nil, errors.Errorf("class %s not found", name)
}

// DirFinder loads a .class file directly from a directory (the user's
// classpath, where the start class itself lives).
type DirFinder struct {
	Dir string
}

func (d *DirFinder) FindClass(name string) ([]byte, error) {
	path := filepath.Join(d.Dir, name+".class")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading class file %s", path)
	}
	return data, nil
}
