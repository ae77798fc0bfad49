package gate

import (
	"os"
	"path/filepath"
	"sync"
)

// MemoryFlag records the prepare only for the lifetime of the process.
type MemoryFlag struct {
	mu   sync.Mutex
	done bool
}

func NewMemoryFlag() *MemoryFlag { return &MemoryFlag{} }

func (f *MemoryFlag) Done() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done, nil
}

func (f *MemoryFlag) Mark() error {
	f.mu.Lock()
	f.done = true
	f.mu.Unlock()
	return nil
}

// FileFlag records the prepare as an empty marker file, surviving restarts
// of a single-node deployment.
type FileFlag struct {
	path string
}

func NewFileFlag(path string) (*FileFlag, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &FileFlag{path: path}, nil
}

func (f *FileFlag) Done() (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *FileFlag) Mark() error {
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte("done\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

var (
	_ FlagStore = (*MemoryFlag)(nil)
	_ FlagStore = (*FileFlag)(nil)
)
