// Package iox has file writing helpers.
package iox

import (
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic calls write with a temporary file in the same directory as filename,
// and then renames the temporary file over filename. If write fails, filename is untouched.
func WriteFileAtomic(filename string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), "."+filepath.Base(filename)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// WriteStreamToFile atomically replaces dstFilename with the contents of src
func WriteStreamToFile(dstFilename string, src io.Reader) error {
	return WriteFileAtomic(dstFilename, func(w io.Writer) error {
		_, err := io.Copy(w, src)
		return err
	})
}
