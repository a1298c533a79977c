// Package userstore implements the persistent user store: a mapping
// userId → {username, password, role}, validation, and role-gated CRUD
// backed by a single pretty-printed JSON file. The whole file is read and
// validated up front; callers never hold a half-read store.
package userstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/vebjomy/greenhouse-server/logger"
)

// Errors returned by Store operations; the Session Handler maps these onto
// the wire error codes.
var (
	ErrForbidden     = errors.New("userstore: caller is not an admin")
	ErrUserNotFound  = errors.New("userstore: user not found")
	ErrUsernameTaken = errors.New("userstore: username already registered")
)

// RoleAdmin is the case-insensitively matched admin role string gating
// update/delete.
const RoleAdmin = "Admin"

// User is one persisted credential entry. Password is stored in plain text;
// TODO: replace with a hashed scheme before this store guards anything real.
type User struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// PublicUser is the id/username/role projection returned by GetAll — never
// the password.
type PublicUser struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Store is the JSON-file-backed user store. GetAll/Update/Delete serialise
// behind mu; Register/Validate deliberately do not take mu at all — a
// weaker, race-tolerant guarantee. registerMu exists only to keep Register's
// own check-then-append sequence atomic with itself, never with
// GetAll/Update/Delete.
type Store struct {
	path string
	log  *logger.Logger

	mu    sync.Mutex // guards users for GetAll/Update/Delete
	users []User

	registerMu sync.Mutex // guards only Register's check-then-append
}

// New opens (or creates) the JSON file at path. If the file does not exist it
// is created with the seeded defaults (admin/admin123/Admin,
// user/user123/Viewer). If it exists but is empty or malformed, the store
// starts empty and logs a warning rather than failing.
func New(path string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.New(logger.LevelInfo)
	}
	s := &Store{path: path, log: log}

	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-provided config path
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.users = seedUsers()
		if err := s.persistLocked(); err != nil {
			return nil, fmt.Errorf("userstore: seed %q: %w", path, err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("userstore: open %q: %w", path, err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		log.Warnf("userstore: %q is empty; starting with no users", path)
		s.users = nil
		return s, nil
	}

	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		log.Warnf("userstore: %q is malformed (%v); starting with no users", path, err)
		s.users = nil
		return s, nil
	}
	s.users = users
	return s, nil
}

func seedUsers() []User {
	return []User{
		{ID: 1, Username: "admin", Password: "admin123", Role: "Admin"},
		{ID: 2, Username: "user", Password: "user123", Role: "Viewer"},
	}
}

// persistLocked rewrites the full user array as pretty-printed JSON. Callers
// must already hold whichever lock protects s.users.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("userstore: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.log.Errorf("userstore: persist %q: %v", s.path, err)
		return fmt.Errorf("userstore: persist %q: %w", s.path, err)
	}
	return nil
}

// Validate reports whether username/password matches a stored user.
// Deliberately lock-free against GetAll/Update/Delete; it still reads a live
// snapshot via a brief lock so it never observes a torn slice header.
func (s *Store) Validate(username, password string) bool {
	users := s.snapshotUnordered()
	for _, u := range users {
		if u.Username == username && u.Password == password {
			return true
		}
	}
	return false
}

// snapshotUnordered takes a cheap copy of the current slice. It does not
// take the store-wide mu; the copy is just enough to avoid racing on slice
// growth during Register.
func (s *Store) snapshotUnordered() []User {
	s.registerMu.Lock()
	defer s.registerMu.Unlock()
	out := make([]User, len(s.users))
	copy(out, s.users)
	return out
}

// Register allocates max(existingIds)+1, rejects a duplicate username (the
// store is the sole owner of the invariant that no two entries share a
// username), appends, and persists. role=="" is stored as "Admin".
func (s *Store) Register(username, password, role string) (int, error) {
	if role == "" {
		role = "Admin"
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return 0, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
		}
	}

	maxID := 0
	for _, u := range s.users {
		if u.ID > maxID {
			maxID = u.ID
		}
	}
	id := maxID + 1
	s.users = append(s.users, User{ID: id, Username: username, Password: password, Role: role})
	// Persist failures are logged inside persistLocked; the in-memory change
	// stands.
	_ = s.persistLocked()
	return id, nil
}

// GetAll returns every user's public projection (no passwords), under the
// store-wide mutex.
func (s *Store) GetAll() []PublicUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PublicUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, PublicUser{ID: u.ID, Username: u.Username, Role: u.Role})
	}
	return out
}

// isAdmin reports whether actorRole is "Admin", case-insensitively.
func isAdmin(actorRole string) bool {
	return strings.EqualFold(actorRole, RoleAdmin)
}

// Update changes userID's username and role. actorRole must be Admin
// (case-insensitive).
func (s *Store) Update(userID int, newUsername, newRole, actorRole string) error {
	if !isAdmin(actorRole) {
		return ErrForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID == userID {
			if newUsername != "" {
				s.users[i].Username = newUsername
			}
			if newRole != "" {
				s.users[i].Role = newRole
			}
			_ = s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
}

// Delete removes userID. actorRole must be Admin (case-insensitive).
func (s *Store) Delete(userID int, actorRole string) error {
	if !isAdmin(actorRole) {
		return ErrForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].ID == userID {
			s.users = append(s.users[:i], s.users[i+1:]...)
			_ = s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
}

// GetUserID returns the id of username, if registered.
func (s *Store) GetUserID(username string) (int, bool) {
	for _, u := range s.snapshotUnordered() {
		if u.Username == username {
			return u.ID, true
		}
	}
	return 0, false
}

// GetUserRole returns the role of username, if registered.
func (s *Store) GetUserRole(username string) (string, bool) {
	for _, u := range s.snapshotUnordered() {
		if u.Username == username {
			return u.Role, true
		}
	}
	return "", false
}
