// Package pidfile manages the process id file of the daemon.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// PIDFile is a file holding the pid of a running process.
type PIDFile struct {
	path string
}

func checkAlreadyRunning(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil
	}
	if alive, _ := process.PidExists(int32(pid)); alive {
		return fmt.Errorf("pid file found, ensure portsync is not running or delete %s", path)
	}
	return nil
}

// New writes the current pid to path. It fails if path names a process that
// is still running.
func New(path string) (*PIDFile, error) {
	if err := checkAlreadyRunning(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f := &PIDFile{path: path}
	if err := f.Write(); err != nil {
		return nil, err
	}
	return f, nil
}

// Write stores the current pid.
func (f PIDFile) Write() error {
	return os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Remove deletes the file.
func (f PIDFile) Remove() error {
	return os.Remove(f.path)
}
