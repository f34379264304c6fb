package catalog

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/willibrandon/pgarman"
)

// LockFileName is the exclusive lock file under the catalog root that
// guards the entire catalog for the duration of one invocation.
const LockFileName = "backup.lock"

// Lock holds an acquired catalog lock. The holder must call Release on
// every exit path; Release is idempotent.
type Lock struct {
	file *os.File
}

// Lock attempts to acquire the catalog's exclusive lock via flock(2),
// distinguishing "another process holds it" from an I/O error the way
// §4.1 requires. A successful Lock must be released with (*Lock).Release.
func (c *Catalog) Lock() (*Lock, error) {
	path := filepath.Join(c.root, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, pgarman.NewError(pgarman.KindEnvironment, "catalog.Lock", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, pgarman.NewError(pgarman.KindContention, "catalog.Lock", pgarman.ErrLockContention)
		}
		return nil, pgarman.NewError(pgarman.KindEnvironment, "catalog.Lock", err)
	}

	return &Lock{file: f}, nil
}

// Release drops the catalog lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
