package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FileConfig for file-based identity storage
type FileConfig struct {
	// Directory where namespace files are stored
	Directory string `json:"directory" yaml:"directory" mapstructure:"directory"`

	// FilePermissions for created files (e.g., 0644)
	FilePermissions uint32 `json:"file_permissions" yaml:"file_permissions" mapstructure:"file_permissions"`

	// Fsync flushes each write to disk before the rename
	Fsync bool `json:"fsync" yaml:"fsync" mapstructure:"fsync"`
}

// FileBackend stores each namespace as an indented JSON object in <directory>/<namespace>.json
type FileBackend struct {
	config    *FileConfig
	directory string
	mutex     sync.RWMutex
	logger    *logrus.Logger
	closed    bool
}

// NewFileBackend creates a file backend, creating the directory if needed
func NewFileBackend(config *FileConfig) (*FileBackend, error) {
	if config == nil {
		return nil, fmt.Errorf("file config is required")
	}
	if config.Directory == "" {
		config.Directory = "cache"
	}
	if config.FilePermissions == 0 {
		config.FilePermissions = 0644
	}

	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", config.Directory, err)
	}

	backend := &FileBackend{
		config:    config,
		directory: config.Directory,
		logger:    logrus.New(),
	}

	backend.logger.WithFields(logrus.Fields{
		"directory": config.Directory,
		"fsync":     config.Fsync,
	}).Debug("Created file identity backend")

	return backend, nil
}

// SetLogger replaces the backend logger
func (fb *FileBackend) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		fb.logger = logger
	}
}

func (fb *FileBackend) Name() string { return "file" }

// Path returns the file holding ns
func (fb *FileBackend) Path(ns Namespace) string {
	return filepath.Join(fb.directory, string(ns)+".json")
}

// Load reads a namespace file
func (fb *FileBackend) Load(ctx context.Context, ns Namespace) (Entries, error) {
	fb.mutex.RLock()
	defer fb.mutex.RUnlock()

	if fb.closed {
		return nil, ErrBackendClosed
	}

	data, err := os.ReadFile(fb.Path(ns))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", fb.Path(ns), err)
	}

	entries := Entries{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupted, fb.Path(ns), err)
	}
	if entries == nil {
		// a literal null decodes to a nil map
		return nil, fmt.Errorf("%w: %s: not an object", ErrStoreCorrupted, fb.Path(ns))
	}

	fb.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"entries":   len(entries),
	}).Debug("Loaded identity namespace from file")

	return entries, nil
}

// Save writes the namespace to a temporary file and renames it into place
func (fb *FileBackend) Save(ctx context.Context, ns Namespace, entries Entries) error {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()

	if fb.closed {
		return ErrBackendClosed
	}
	if entries == nil {
		entries = Entries{}
	}

	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal namespace %s: %w", ns, err)
	}

	filePath := fb.Path(ns)
	tempPath := filePath + ".tmp"
	if err := fb.writeFile(tempPath, data); err != nil {
		os.Remove(tempPath)
		return err
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	fb.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"entries":   len(entries),
		"file_path": filePath,
	}).Debug("Saved identity namespace to file")

	return nil
}

func (fb *FileBackend) writeFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(fb.config.FilePermissions))
	if err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if fb.config.Fsync {
		if err := file.Sync(); err != nil {
			file.Close()
			return fmt.Errorf("failed to sync temporary file: %w", err)
		}
	}
	return file.Close()
}

// Quarantine renames a corrupt namespace file to <file>.corrupt-<unix>
func (fb *FileBackend) Quarantine(ctx context.Context, ns Namespace) (string, error) {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()

	filePath := fb.Path(ns)
	target := fmt.Sprintf("%s.corrupt-%d", filePath, time.Now().Unix())
	if err := os.Rename(filePath, target); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", filePath, err)
	}
	return target, nil
}

// Close marks the backend closed
func (fb *FileBackend) Close() error {
	fb.mutex.Lock()
	defer fb.mutex.Unlock()
	fb.closed = true
	return nil
}

// HealthCheck verifies the directory is writable
func (fb *FileBackend) HealthCheck(ctx context.Context) error {
	fb.mutex.RLock()
	defer fb.mutex.RUnlock()

	if fb.closed {
		return ErrBackendClosed
	}

	probe := filepath.Join(fb.directory, ".health_check")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	os.Remove(probe)
	return nil
}

// QuarantinedFiles lists quarantined copies of ns, oldest first
func (fb *FileBackend) QuarantinedFiles(ns Namespace) ([]string, error) {
	matches, err := filepath.Glob(fb.Path(ns) + ".corrupt-*")
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if !strings.HasSuffix(m, ".tmp") {
			out = append(out, m)
		}
	}
	return out, nil
}
