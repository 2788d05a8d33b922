package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/wharf-registry/wharf/pkg/api"
)

// fsUser is one user record in the state file.
type fsUser struct {
	ID           uint32 `json:"id"`
	Login        string `json:"login"`
	PasswordHash string `json:"password_hash"`
}

// fsState is the full persisted auth state. The whole document is
// rewritten atomically on every mutation; auth churn is rare enough
// that this is never the bottleneck.
type fsState struct {
	NextID uint32 `json:"next_id"`
	// Users maps login to the user record.
	Users map[string]fsUser `json:"users"`
	// Tokens maps a peppered token digest to the owning user id.
	Tokens map[string]uint32 `json:"tokens"`
	// Ownership maps a case-folded package name to its owner ids.
	Ownership map[string][]uint32 `json:"ownership"`
}

// FSAuth implements Backend on a single JSON state file, selected by the
// auth_path + auth_tokens_pepper configuration options.
type FSAuth struct {
	path   string
	pepper string

	mu    sync.RWMutex
	state fsState
}

// NewFSAuth loads the state file, creating an empty one if absent.
func NewFSAuth(path, pepper string) (*FSAuth, error) {
	a := &FSAuth{
		path:   path,
		pepper: pepper,
		state: fsState{
			NextID:    1,
			Users:     map[string]fsUser{},
			Tokens:    map[string]uint32{},
			Ownership: map[string][]uint32{},
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create auth state directory: %w", err)
		}
		if err := a.persistLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read auth state file %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &a.state); err != nil {
			return nil, fmt.Errorf("failed to parse auth state file %s: %w", path, err)
		}
	}
	return a, nil
}

func (a *FSAuth) Healthcheck(ctx context.Context) error {
	_, err := os.Stat(a.path)
	return err
}

// persistLocked writes the state file atomically. Callers hold the write
// lock.
func (a *FSAuth) persistLocked() error {
	data, err := json.MarshalIndent(a.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode auth state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(a.path), ".auth-*.tmp")
	if err != nil {
		return api.WrapError(api.KindAuthIO, "failed to create auth state temp file", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return api.WrapError(api.KindAuthIO, "failed to restrict auth state permissions", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return api.WrapError(api.KindAuthIO, "failed to write auth state", err)
	}
	if err := tmp.Close(); err != nil {
		return api.WrapError(api.KindAuthIO, "failed to flush auth state", err)
	}
	if err := os.Rename(tmp.Name(), a.path); err != nil {
		return api.WrapError(api.KindAuthIO, "failed to finalize auth state", err)
	}
	return nil
}

func (a *FSAuth) Register(ctx context.Context, login, password string) (string, error) {
	if login == "" || password == "" {
		return "", api.ErrBadRequest("login and password are required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.state.Users[login]; exists {
		return "", api.NewError(api.KindConflict, "login is already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", api.WrapError(api.KindAuthIO, "failed to hash password", err)
	}

	token, err := newToken()
	if err != nil {
		return "", api.WrapError(api.KindAuthIO, "failed to issue token", err)
	}

	user := fsUser{ID: a.state.NextID, Login: login, PasswordHash: string(hash)}
	digest := tokenDigest(a.pepper, token)
	a.state.NextID++
	a.state.Users[login] = user
	a.state.Tokens[digest] = user.ID

	// A failed persist must not leave the user resident, or the login
	// stays "taken" in memory with nothing on disk behind it.
	if err := a.persistLocked(); err != nil {
		delete(a.state.Users, login)
		delete(a.state.Tokens, digest)
		a.state.NextID--
		return "", err
	}
	return token, nil
}

func (a *FSAuth) Login(ctx context.Context, login, password string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, ok := a.state.Users[login]
	if !ok {
		return "", api.ErrForbidden("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", api.ErrForbidden("invalid credentials")
	}

	token, err := newToken()
	if err != nil {
		return "", api.WrapError(api.KindAuthIO, "failed to issue token", err)
	}
	digest := tokenDigest(a.pepper, token)
	a.state.Tokens[digest] = user.ID

	if err := a.persistLocked(); err != nil {
		delete(a.state.Tokens, digest)
		return "", err
	}
	return token, nil
}

func (a *FSAuth) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, api.ErrUnauthorized("missing token")
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	userID, ok := a.state.Tokens[tokenDigest(a.pepper, token)]
	if !ok {
		return nil, api.ErrForbidden("unknown token")
	}
	for _, user := range a.state.Users {
		if user.ID == userID {
			return &Identity{ID: user.ID, Login: user.Login}, nil
		}
	}
	return nil, api.ErrForbidden("token has no user")
}

func (a *FSAuth) AuthPublish(ctx context.Context, who *Identity, name string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	owners := a.state.Ownership[ownershipKey(name)]
	if len(owners) == 0 {
		// Unowned package: anyone may take the first publish.
		return nil
	}
	if !slices.Contains(owners, who.ID) {
		return api.ErrForbidden("you are not an owner of this package")
	}
	return nil
}

func (a *FSAuth) RegisterOwner(ctx context.Context, who *Identity, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := ownershipKey(name)
	prev := a.state.Ownership[key]
	if slices.Contains(prev, who.ID) {
		return nil
	}
	a.state.Ownership[key] = append(slices.Clone(prev), who.ID)
	if err := a.persistLocked(); err != nil {
		a.state.Ownership[key] = prev
		return err
	}
	return nil
}

func (a *FSAuth) AuthYank(ctx context.Context, who *Identity, name string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !slices.Contains(a.state.Ownership[ownershipKey(name)], who.ID) {
		return api.ErrForbidden("you are not an owner of this package")
	}
	return nil
}

func (a *FSAuth) ListOwners(ctx context.Context, name string) ([]api.ListedOwner, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var owners []api.ListedOwner
	for _, id := range a.state.Ownership[ownershipKey(name)] {
		for _, user := range a.state.Users {
			if user.ID == id {
				owners = append(owners, api.ListedOwner{ID: user.ID, Login: user.Login})
				break
			}
		}
	}
	slices.SortFunc(owners, func(x, y api.ListedOwner) int { return int(x.ID) - int(y.ID) })
	return owners, nil
}

func (a *FSAuth) AddOwners(ctx context.Context, who *Identity, name string, logins []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := ownershipKey(name)
	prev := a.state.Ownership[key]
	if !slices.Contains(prev, who.ID) {
		return api.ErrForbidden("you are not an owner of this package")
	}

	updated := slices.Clone(prev)
	for _, login := range logins {
		user, ok := a.state.Users[login]
		if !ok {
			return api.ErrBadRequest(fmt.Sprintf("no such user: %s", login))
		}
		if !slices.Contains(updated, user.ID) {
			updated = append(updated, user.ID)
		}
	}

	a.state.Ownership[key] = updated
	if err := a.persistLocked(); err != nil {
		a.state.Ownership[key] = prev
		return err
	}
	return nil
}

func (a *FSAuth) RemoveOwners(ctx context.Context, who *Identity, name string, logins []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := ownershipKey(name)
	owners := a.state.Ownership[key]
	if !slices.Contains(owners, who.ID) {
		return api.ErrForbidden("you are not an owner of this package")
	}

	remaining := slices.Clone(owners)
	for _, login := range logins {
		user, ok := a.state.Users[login]
		if !ok {
			return api.ErrBadRequest(fmt.Sprintf("no such user: %s", login))
		}
		remaining = slices.DeleteFunc(remaining, func(id uint32) bool { return id == user.ID })
	}
	if len(remaining) == 0 {
		return api.ErrForbidden("cannot remove the last owner")
	}

	a.state.Ownership[key] = remaining
	if err := a.persistLocked(); err != nil {
		a.state.Ownership[key] = owners
		return err
	}
	return nil
}
