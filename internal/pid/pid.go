// Package pid implements the background-execution claim as a PID file held
// while collection runs.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"codeberg.org/iclab/ppglogger/internal/errors"
)

var errFactory = errors.New()

// Claim is a PID file owned by this process while acquired.
type Claim struct {
	path string
	pid  int

	mu   sync.Mutex
	held bool
}

func NewClaim(path string) *Claim {
	return &Claim{path: path, pid: os.Getpid()}
}

func (c *Claim) Path() string {
	return c.path
}

// Acquire writes the current process ID to the PID file. It is a no-op when
// already held, and fails with claim_held when a live process owns the file.
func (c *Claim) Acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.held {
		return nil
	}

	if owner, err := readOwner(c.path); err == nil {
		if owner != c.pid && alive(owner) {
			return errFactory.WithData(errors.ErrClaimHeld, struct {
				Path string
				PID  int
			}{
				Path: c.path,
				PID:  owner,
			})
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	if err := os.WriteFile(c.path, []byte(strconv.Itoa(c.pid)), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	c.held = true

	return nil
}

// Release removes the PID file if this process owns it.
func (c *Claim) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.held {
		return nil
	}
	c.held = false

	owner, err := readOwner(c.path)
	if os.IsNotExist(err) || (err == nil && owner != c.pid) {
		return nil
	}

	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Held reports whether this claim currently owns the file.
func (c *Claim) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

func readOwner(path string) (int, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
	if err != nil {
		// Unparseable files are treated as stale.
		return 0, nil
	}
	return pid, nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
