package contentscan

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// workDir is a scratch directory owned by a single pipeline run.
type workDir struct {
	path string
}

func newWorkDir(root string) (*workDir, error) {
	path := filepath.Join(root, "scan-"+uuid.NewString())
	if err := os.Mkdir(path, 0700); err != nil {
		return nil, err
	}
	return &workDir{path: path}, nil
}

func (w *workDir) Path(name string) string {
	return filepath.Join(w.path, name)
}

func (w *workDir) Remove() error {
	return os.RemoveAll(w.path)
}
