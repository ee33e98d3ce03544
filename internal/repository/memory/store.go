// Package memory provides process-local implementations of the user directory
// and the connection store. They share one lock so identifier claims and
// revision checks are atomic across both.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dtroode/moodist-server/internal/model"
)

// Store holds every document in maps guarded by a single mutex.
type Store struct {
	mu          sync.Mutex
	users       map[model.Role]map[string]model.User
	identifiers map[string]string // unique id -> user key
	connections map[string]model.Connection
	now         func() time.Time
}

var (
	_ model.UserDirectory   = (*Store)(nil)
	_ model.ConnectionStore = (*Connections)(nil)
)

// New creates an empty Store.
func New() *Store {
	users := make(map[model.Role]map[string]model.User, len(model.Roles))
	for _, role := range model.Roles {
		users[role] = make(map[string]model.User)
	}
	return &Store{
		users:       users,
		identifiers: make(map[string]string),
		connections: make(map[string]model.Connection),
		now:         time.Now,
	}
}

// Connections returns the connection store view of s.
func (s *Store) Connections() *Connections {
	return &Connections{s: s}
}

func (s *Store) partition(role model.Role) (map[string]model.User, error) {
	p, ok := s.users[role]
	if !ok {
		return nil, model.ErrInvalidRole
	}
	return p, nil
}

func (s *Store) CreatePending(_ context.Context, user model.PendingUser, expectedRev int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.partition(user.Role)
	if err != nil {
		return model.User{}, err
	}

	key := model.UserKey(user.Role, user.Email)
	now := s.now().UTC()
	expires := user.TokenExpiresAt

	current, exists := p[key]
	switch {
	case exists && !current.Pending():
		return model.User{}, model.ErrAlreadyVerified
	case exists != (expectedRev != 0), exists && current.Rev != expectedRev:
		return model.User{}, model.ErrRevisionConflict
	}

	if !exists {
		current = model.User{
			Key:       key,
			Role:      user.Role,
			Email:     user.Email,
			Status:    model.StatusPendingVerification,
			CreatedAt: now,
		}
	}
	current.PasswordHash = user.PasswordHash
	current.VerificationToken = user.VerificationToken
	current.TokenExpiresAt = &expires
	current.UpdatedAt = now
	current.Rev++

	p[key] = current
	return current, nil
}

func (s *Store) FindByEmail(_ context.Context, role model.Role, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.partition(role)
	if err != nil {
		return model.User{}, err
	}
	u, ok := p[model.UserKey(role, email)]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindByIdentifier(_ context.Context, uniqueID string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.identifiers[uniqueID]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	role, _, err := model.ParseUserKey(key)
	if err != nil {
		return model.User{}, model.ErrNotFound
	}
	u, ok := s.users[role][key]
	if !ok || u.UniqueID != uniqueID {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func (s *Store) IdentifierTaken(_ context.Context, uniqueID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.identifiers[uniqueID]
	return ok, nil
}

func (s *Store) ReissueToken(_ context.Context, user model.User, token string, expiresAt time.Time) (model.User, error) {
	return s.update(user, true, func(u *model.User) error {
		u.VerificationToken = token
		u.TokenExpiresAt = &expiresAt
		return nil
	})
}

func (s *Store) MarkVerified(_ context.Context, user model.User, uniqueID string) (model.User, error) {
	return s.update(user, true, func(u *model.User) error {
		if _, taken := s.identifiers[uniqueID]; taken {
			return model.ErrIdentifierTaken
		}
		now := s.now().UTC()
		s.identifiers[uniqueID] = u.Key
		u.Status = model.StatusVerified
		u.IsVerified = true
		u.VerifiedAt = &now
		u.UniqueID = uniqueID
		u.VerificationToken = ""
		u.TokenExpiresAt = nil
		return nil
	})
}

func (s *Store) UpdatePassword(_ context.Context, user model.User, passwordHash string) (model.User, error) {
	return s.update(user, false, func(u *model.User) error {
		now := s.now().UTC()
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &now
		u.ResetToken = ""
		u.ResetExpiresAt = nil
		return nil
	})
}

func (s *Store) RehashPassword(_ context.Context, user model.User, passwordHash string) (model.User, error) {
	return s.update(user, false, func(u *model.User) error {
		u.PasswordHash = passwordHash
		return nil
	})
}

func (s *Store) SetResetToken(_ context.Context, user model.User, token string, expiresAt time.Time) (model.User, error) {
	return s.update(user, false, func(u *model.User) error {
		u.ResetToken = token
		u.ResetExpiresAt = &expiresAt
		return nil
	})
}

// RegenerateIdentifier leaves the old identifier in the claims map, so it
// stays taken and no longer resolves to anyone.
func (s *Store) RegenerateIdentifier(_ context.Context, user model.User, newID, reason string) (model.User, int, error) {
	revoked := 0
	saved, err := s.update(user, false, func(u *model.User) error {
		if u.Status != model.StatusVerified {
			return model.ErrRevisionConflict
		}
		if _, taken := s.identifiers[newID]; taken {
			return model.ErrIdentifierTaken
		}
		now := s.now().UTC()
		s.identifiers[newID] = u.Key
		revoked = s.revokeLocked(u.UniqueID, reason, now)
		u.UniqueID = newID
		u.IdentifierChangedAt = &now
		return nil
	})
	if err != nil {
		return model.User{}, 0, err
	}
	return saved, revoked, nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// update applies fn to the stored copy of user when its revision still matches.
// fn runs under the lock; on error nothing is written.
func (s *Store) update(user model.User, pendingOnly bool, fn func(u *model.User) error) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.partition(user.Role)
	if err != nil {
		return model.User{}, err
	}

	current, ok := p[user.Key]
	switch {
	case !ok:
		return model.User{}, model.ErrNotFound
	case pendingOnly && !current.Pending():
		return model.User{}, model.ErrAlreadyVerified
	case current.Rev != user.Rev:
		return model.User{}, model.ErrRevisionConflict
	}

	next := current
	if err := fn(&next); err != nil {
		return model.User{}, err
	}
	next.UpdatedAt = s.now().UTC()
	next.Rev++

	p[user.Key] = next
	return next, nil
}

// Connections implements model.ConnectionStore on a Store.
type Connections struct {
	s *Store
}

func (c *Connections) Open(_ context.Context, conn model.Connection) (model.Connection, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	now := c.s.now().UTC()
	current, exists := c.s.connections[conn.ID]
	if exists && !current.Status.Terminal() {
		return model.Connection{}, model.ErrConnectionExists
	}

	conn.Status = model.ConnectionPending
	conn.RevokeReason = ""
	conn.CreatedAt = now
	conn.UpdatedAt = now
	conn.Rev = current.Rev + 1

	c.s.connections[conn.ID] = conn
	return conn, nil
}

func (c *Connections) Get(_ context.Context, id string) (model.Connection, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	conn, ok := c.s.connections[id]
	if !ok {
		return model.Connection{}, model.ErrNotFound
	}
	return conn, nil
}

func (c *Connections) Transition(_ context.Context, conn model.Connection, status model.ConnectionStatus, reason string) (model.Connection, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	current, ok := c.s.connections[conn.ID]
	if !ok {
		return model.Connection{}, model.ErrNotFound
	}
	if current.Rev != conn.Rev {
		return model.Connection{}, model.ErrRevisionConflict
	}

	current.Status = status
	current.RevokeReason = reason
	current.UpdatedAt = c.s.now().UTC()
	current.Rev++

	c.s.connections[conn.ID] = current
	return current, nil
}

func (c *Connections) RevokeAllForIdentifier(_ context.Context, uniqueID, reason string) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	return c.s.revokeLocked(uniqueID, reason, c.s.now().UTC()), nil
}

// revokeLocked revokes every live connection of uniqueID. s.mu must be held.
func (s *Store) revokeLocked(uniqueID, reason string, now time.Time) int {
	revoked := 0
	for id, conn := range s.connections {
		if !conn.Involves(uniqueID) || conn.Status.Terminal() {
			continue
		}
		conn.Status = model.ConnectionRevoked
		conn.RevokeReason = reason
		conn.UpdatedAt = now
		conn.Rev++
		s.connections[id] = conn
		revoked++
	}
	return revoked
}

func (c *Connections) ListForIdentifier(_ context.Context, uniqueID string) ([]model.Connection, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	var conns []model.Connection
	for _, conn := range c.s.connections {
		if conn.Involves(uniqueID) {
			conns = append(conns, conn)
		}
	}

	sort.Slice(conns, func(i, j int) bool {
		if !conns[i].UpdatedAt.Equal(conns[j].UpdatedAt) {
			return conns[i].UpdatedAt.After(conns[j].UpdatedAt)
		}
		return conns[i].ID < conns[j].ID
	})
	return conns, nil
}
