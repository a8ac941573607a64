// Package daemon guards exclusive single-process ownership of a workspace's
// cache and artifact directories, per the engine's requirement that only one
// build process may hold a workspace's local cache index open for writing
// at a time.
package daemon

import "fmt"

// WorkspaceLock represents a held claim on a workspace's lock directory.
// Release must be called to give up ownership; if the process exits
// without calling it, the stale lock is detected and reclaimed by the next
// process via IsRunning's liveness check.
type WorkspaceLock struct {
	dataDir string
}

// Acquire claims exclusive ownership of the workspace rooted at dataDir. It
// fails if another live process already holds the lock.
func Acquire(dataDir string) (*WorkspaceLock, error) {
	if IsRunning(dataDir) {
		pid, _ := ReadPID(dataDir)
		return nil, fmt.Errorf("workspace is locked by another manila process (PID %d)", pid)
	}

	if err := WritePID(dataDir); err != nil {
		return nil, fmt.Errorf("acquiring workspace lock: %w", err)
	}

	return &WorkspaceLock{dataDir: dataDir}, nil
}

// Release gives up ownership of the workspace lock.
func (l *WorkspaceLock) Release() error {
	return RemovePID(l.dataDir)
}
