package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github/closedbook/rag/models"
)

// DocStore manages the per-user directories of raw source files. It is the
// only component that writes under the data root.
type DocStore struct {
	root string

	mu       sync.Mutex
	onChange func(userID string)
}

// NewDocStore creates a document store rooted at the given directory.
func NewDocStore(root string) (*DocStore, error) {
	absPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not determine absolute path for data root: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("could not create data root: %w", err)
	}
	return &DocStore{root: absPath}, nil
}

// SetChangeHook registers a callback invoked whenever a user's file set
// mutates. The sync layer uses it to drop memoised sync results.
func (d *DocStore) SetChangeHook(fn func(userID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

// Root returns the data root directory.
func (d *DocStore) Root() string {
	return d.root
}

// UserDir returns (creating if needed) the user's document directory.
func (d *DocStore) UserDir(userID string) (string, error) {
	dir := filepath.Join(d.root, filepath.Base(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create user directory: %w", err)
	}
	return dir, nil
}

// Path resolves a document name to its on-disk path, rejecting names that
// would escape the user's directory or carry an unsupported extension.
func (d *DocStore) Path(userID, name string) (string, error) {
	if !isSupportedFile(name) {
		return "", fmt.Errorf("%w: unsupported file type: %s", models.ErrInvalidInput, name)
	}
	dir, err := d.UserDir(userID)
	if err != nil {
		return "", err
	}
	// filepath.Base prevents path traversal (e.g. "../../etc/passwd").
	cleanPath := filepath.Join(dir, filepath.Base(name))
	if !strings.HasPrefix(cleanPath, dir) {
		return "", fmt.Errorf("%w: invalid file name: %s", models.ErrInvalidInput, name)
	}
	return cleanPath, nil
}

// Save writes a document and notifies the change hook.
func (d *DocStore) Save(userID, name string, data []byte) error {
	path, err := d.Path(userID, name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	d.notify(userID)
	return nil
}

// Delete removes a document (and any Zone.Identifier sidecar Windows
// uploads leave behind) and notifies the change hook.
func (d *DocStore) Delete(userID, name string) error {
	path, err := d.Path(userID, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", models.ErrNotFound, name)
		}
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	if _, err := os.Stat(path + ":Zone.Identifier"); err == nil {
		_ = os.Remove(path + ":Zone.Identifier")
	}
	d.notify(userID)
	return nil
}

// List enumerates the user's documents, filtered by the extension
// allow-list, in deterministic order.
func (d *DocStore) List(userID string) ([]string, error) {
	dir, err := d.UserDir(userID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list user directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isSupportedFile(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (d *DocStore) notify(userID string) {
	d.mu.Lock()
	fn := d.onChange
	d.mu.Unlock()
	if fn != nil {
		fn(userID)
	}
}

func isSupportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf", ".txt", ".docx", ".md":
		return true
	default:
		return false
	}
}
