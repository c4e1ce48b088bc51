// Package store persists one biometric template per user as a JSON file
// readable only by the owning process. Writes are atomic: either the new
// template is fully written and readable, or the old one remains.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// ErrNotEnrolled means no template exists for the user. This is a
	// normal outcome for unknown or not-yet-enrolled users, not a fault.
	ErrNotEnrolled = errors.New("user not enrolled")
	// ErrInvalidUsername means the name is not a safe POSIX username.
	ErrInvalidUsername = errors.New("invalid username")
)

// usernameRe accepts POSIX-style user names. Anything else could escape
// the template directory when used as a file name.
var usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_.-]{0,31}\$?$`)

const templateExt = ".json"

// Store is a file-per-user template store rooted at a single directory.
// The directory is created with mode 0700 and template files with 0600;
// templates are biometric data and must not be readable by other users.
type Store struct {
	dir string
}

// New opens (and if needed creates) the template directory.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating template dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the template directory path.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) pathFor(username string) (string, error) {
	if !usernameRe.MatchString(username) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return filepath.Join(s.dir, username+templateExt), nil
}

// Save writes the template for tpl.Username, replacing any previous one.
// The write goes through a temp file in the same directory followed by a
// rename, so a crash or kill mid-write never leaves a partial template.
func (s *Store) Save(tpl *Template) error {
	path, err := s.pathFor(tpl.Username)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(tpl, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding template for %s: %w", tpl.Username, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".facegate-*")
	if err != nil {
		return fmt.Errorf("writing template for %s: %w", tpl.Username, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing template for %s: %w", tpl.Username, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing template for %s: %w", tpl.Username, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing template for %s: %w", tpl.Username, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing template for %s: %w", tpl.Username, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("writing template for %s: %w", tpl.Username, err)
	}
	if d, err := os.Open(s.dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Load returns the current template for username, or ErrNotEnrolled.
func (s *Store) Load(username string) (*Template, error) {
	path, err := s.pathFor(username)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("reading template for %s: %w", username, err)
	}

	var tpl Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("decoding template for %s: %w", username, err)
	}
	return &tpl, nil
}

// Delete removes the template for username. Deleting a user who has no
// template is not an error; account-lifecycle cleanup may call this
// unconditionally.
func (s *Store) Delete(username string) error {
	path, err := s.pathFor(username)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting template for %s: %w", username, err)
	}
	return nil
}

// List returns metadata for all enrolled users, sorted by username.
// Vectors stay on disk.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), templateExt) {
			continue
		}
		username := strings.TrimSuffix(e.Name(), templateExt)
		tpl, err := s.Load(username)
		if err != nil {
			// Skip foreign or half-removed files rather than failing
			// the whole listing.
			continue
		}
		infos = append(infos, tpl.Info())
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Username < infos[j].Username })
	return infos, nil
}

// LoadAll returns every template with its vector, for index building.
func (s *Store) LoadAll() ([]Template, error) {
	infos, err := s.List()
	if err != nil {
		return nil, err
	}

	templates := make([]Template, 0, len(infos))
	for _, info := range infos {
		tpl, err := s.Load(info.Username)
		if err != nil {
			continue
		}
		templates = append(templates, *tpl)
	}
	return templates, nil
}
