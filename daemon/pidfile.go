package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"netplugd/errors"
)

// PidFile is the optional file the daemon records its own process ID in,
// mirroring write_pid/tidy_pid. Write is atomic (temp file + rename) so a
// reader never observes a half-written pid.
type PidFile struct {
	path string
}

// NewPidFile returns a PidFile for path. An empty path means no pid file
// is wanted; Write and Remove are then no-ops, so callers don't need to
// branch on whether -p was given.
func NewPidFile(path string) *PidFile {
	return &PidFile{path: path}
}

// Write records the current process's pid, replacing any existing file.
func (p *PidFile) Write() error {
	if p.path == "" {
		return nil
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".netplugd-*.tmp")
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrPidFile, "Write", p.path)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := fmt.Fprintf(tmp, "%d\n", os.Getpid()); err != nil {
		tmp.Close()
		return errors.WrapWithDetail(err, errors.ErrPidFile, "Write", p.path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.WrapWithDetail(err, errors.ErrPidFile, "Write", p.path)
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapWithDetail(err, errors.ErrPidFile, "Write", p.path)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return errors.WrapWithDetail(err, errors.ErrPidFile, "Write", p.path)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return errors.WrapWithDetail(err, errors.ErrPidFile, "Write", p.path)
	}

	success = true
	return nil
}

// Remove deletes the pid file, mirroring tidy_pid. Removing a file that
// was never written is not an error.
func (p *PidFile) Remove() error {
	if p.path == "" {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.WrapWithDetail(err, errors.ErrPidFile, "Remove", p.path)
	}
	return nil
}
