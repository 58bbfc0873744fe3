package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schemaguard/schemaguard/internal/config"
)

const DefaultPath = "~/.schemaguard/schemaguard.lock"

// Holder describes the process that owns the lock.
type Holder struct {
	PID     int       `yaml:"pid"`
	Command string    `yaml:"command"`
	Started time.Time `yaml:"started"`
}

// HeldError is returned by Acquire when a running process owns the lock.
type HeldError struct {
	Holder Holder
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("schemaguard %s is already running (PID %d, started %s)",
		e.Holder.Command, e.Holder.PID, e.Holder.Started.Local().Format(time.DateTime))
}

// Lock is an acquired lock file.
type Lock struct {
	path string
}

// Acquire creates the lock file for command. A lock left behind by a
// process that is no longer running is taken over.
func Acquire(path, command string) (*Lock, error) {
	path = resolve(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	data, err := yaml.Marshal(Holder{PID: os.Getpid(), Command: command, Started: time.Now().UTC()})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing lock: %w", werr)
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating lock: %w", err)
		}

		h, err := read(path)
		if err == nil && h.PID != os.Getpid() && isProcessRunning(h.PID) {
			return nil, &HeldError{Holder: h}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("lock %s was recreated while acquiring it", path)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// IsHeld reports whether a running process holds the lock and who it is.
// Unreadable lock files count as not held.
func IsHeld(path string) (Holder, bool, error) {
	h, err := read(resolve(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Holder{}, false, nil
		}
		var perr *yaml.TypeError
		if errors.As(err, &perr) || errors.Is(err, errNoPID) {
			return Holder{}, false, nil
		}
		return Holder{}, false, err
	}
	return h, isProcessRunning(h.PID), nil
}

var errNoPID = errors.New("lock file has no pid")

func read(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	if err := yaml.Unmarshal(data, &h); err != nil {
		return Holder{}, err
	}
	if h.PID <= 0 {
		return Holder{}, errNoPID
	}
	return h, nil
}

func resolve(path string) string {
	if path == "" {
		return config.ExpandHome(DefaultPath)
	}
	return path
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
