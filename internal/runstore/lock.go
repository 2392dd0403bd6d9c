package runstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockDirName   = ".run.lock"
	lockOwnerName = "owner.json"
)

var ErrLocked = errors.New("output directory is locked by another run")

// LockOwner identifies the process that holds an output directory.
type LockOwner struct {
	PID       int    `json:"pid"`
	Hostname  string `json:"hostname,omitempty"`
	CreatedAt string `json:"created_at"`
}

func (o LockOwner) String() string {
	if o.PID <= 0 {
		return "owner unknown"
	}
	return fmt.Sprintf("pid %d on %s since %s", o.PID, o.Hostname, o.CreatedAt)
}

// RunLock is held for the duration of a run. The lock is a directory, so
// os.Mkdir decides the winner.
type RunLock struct {
	dir string
}

func lockPath(outputDir string) string {
	return filepath.Join(strings.TrimSpace(outputDir), lockDirName)
}

// AcquireRunLock creates outputDir if needed and claims it for this process.
func AcquireRunLock(outputDir string) (RunLock, error) {
	if strings.TrimSpace(outputDir) == "" {
		return RunLock{}, errors.New("output directory is required")
	}
	if err := Mkdir(outputDir); err != nil {
		return RunLock{}, err
	}

	dir := lockPath(outputDir)
	switch err := os.Mkdir(dir, 0o755); {
	case errors.Is(err, fs.ErrExist):
		owner, _ := ReadLockOwner(outputDir)
		return RunLock{}, fmt.Errorf("%w: %s (%s)", ErrLocked, outputDir, owner)
	case err != nil:
		return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", outputDir, err)
	}

	owner := LockOwner{
		PID:       os.Getpid(),
		Hostname:  hostname(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := WriteJSON(filepath.Join(dir, lockOwnerName), owner); err != nil {
		_ = os.RemoveAll(dir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", outputDir, err)
	}
	return RunLock{dir: dir}, nil
}

// ReadLockOwner reports who holds outputDir without touching the lock. held is
// false when nobody does. A lock without a readable owner file is still held.
func ReadLockOwner(outputDir string) (owner LockOwner, held bool) {
	dir := lockPath(outputDir)
	if !Exists(dir) {
		return LockOwner{}, false
	}
	_ = ReadJSON(filepath.Join(dir, lockOwnerName), &owner)
	return owner, true
}

func (l RunLock) Release() error {
	if l.dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("release run lock %s: %w", l.dir, err)
	}
	return nil
}

func hostname() string {
	if h, err := os.Hostname(); err == nil && strings.TrimSpace(h) != "" {
		return strings.TrimSpace(h)
	}
	return "unknown"
}

// BreakRunLock removes a lock left behind by a killed process.
func BreakRunLock(outputDir string) error {
	dir := lockPath(outputDir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("break run lock %s: %w", dir, err)
	}
	return nil
}
