package sink

import (
	"os"
	"path/filepath"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/jsonutil"
)

// FileStateWriter persists state snapshots to a file. Each write replaces the
// file atomically so a crash mid-write never leaves a torn snapshot behind.
type FileStateWriter struct {
	path string
}

// NewFileStateWriter creates a writer targeting path.
func NewFileStateWriter(path string) *FileStateWriter {
	return &FileStateWriter{path: path}
}

// WriteState writes the snapshot to a temp file in the target directory and
// renames it into place.
func (f *FileStateWriter) WriteState(snapshot map[string]interface{}) error {
	data, err := jsonutil.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot encode state snapshot")
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot create temp state file")
	}

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot write temp state file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot close temp state file")
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot replace state file")
	}
	return nil
}
