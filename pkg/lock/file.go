package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// FileManager implements Manager with OS advisory file locks, one file per
// scope under Dir. Locks are released by the kernel when the process exits.
type FileManager struct {
	dir string
}

// NewFileManager creates the lock directory if needed.
func NewFileManager(dir string) (*FileManager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("lock dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &FileManager{dir: dir}, nil
}

// Path returns the lock file used for scope.
func (m *FileManager) Path(scope Scope) string {
	return filepath.Join(m.dir, scope.fileName())
}

// TryAcquire takes the advisory lock for scope or returns ErrBusy.
func (m *FileManager) TryAcquire(scope Scope) (Lock, error) {
	fl := flock.New(m.Path(scope))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", scope, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", scope, ErrBusy)
	}

	// Holder pid is informational only.
	_ = os.WriteFile(fl.Path(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)

	return &fileLock{scope: scope, fl: fl}, nil
}

type fileLock struct {
	scope Scope
	fl    *flock.Flock

	once sync.Once
	err  error
}

func (l *fileLock) Scope() Scope { return l.scope }

func (l *fileLock) Release() error {
	l.once.Do(func() {
		l.err = l.fl.Unlock()
	})
	return l.err
}
