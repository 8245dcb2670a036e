// Package directory resolves users and their roles for the workflow engine.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/songzhibin97/license-workflow/types"
)

var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrDuplicateUser = errors.New("duplicate user")
)

// Directory is the user/role lookup the engine consults. Roles come from
// here and never from the caller.
type Directory interface {
	ResolveRole(ctx context.Context, userID string) (string, error)
	ResolveUser(ctx context.Context, userID string) (types.User, error)
	// ListCandidateAssignees returns the users an application may be handed to.
	ListCandidateAssignees(ctx context.Context, applicationID string) ([]types.User, error)
}

// StaticDirectory is an in-memory Directory. Every user whose role is not
// excluded is a candidate for any application unless a per-application list
// was set with Restrict.
type StaticDirectory struct {
	mu         sync.RWMutex
	users      map[string]types.User
	restricted map[string][]string
	excluded   map[string]struct{}
}

// StaticOption configures a StaticDirectory.
type StaticOption func(*StaticDirectory)

// WithExcludedRoles keeps users of these roles out of candidate lists.
// The default excludes APPLICANT.
func WithExcludedRoles(roles ...string) StaticOption {
	return func(d *StaticDirectory) {
		d.excluded = make(map[string]struct{}, len(roles))
		for _, r := range roles {
			d.excluded[r] = struct{}{}
		}
	}
}

// NewStaticDirectory builds a directory from a user list.
func NewStaticDirectory(users []types.User, opts ...StaticOption) (*StaticDirectory, error) {
	d := &StaticDirectory{
		users:      make(map[string]types.User, len(users)),
		restricted: make(map[string][]string),
		excluded:   map[string]struct{}{"APPLICANT": {}},
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, u := range users {
		if err := d.Add(u); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add registers a user.
func (d *StaticDirectory) Add(u types.User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: empty id", ErrUnknownUser)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[u.ID]; ok {
		return fmt.Errorf("%w: id=%s", ErrDuplicateUser, u.ID)
	}
	d.users[u.ID] = u
	return nil
}

// Restrict limits the candidates for one application to the given users.
func (d *StaticDirectory) Restrict(applicationID string, userIDs ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range userIDs {
		if _, ok := d.users[id]; !ok {
			return fmt.Errorf("%w: id=%s", ErrUnknownUser, id)
		}
	}
	d.restricted[applicationID] = append([]string(nil), userIDs...)
	return nil
}

// ResolveUser implements Directory.
func (d *StaticDirectory) ResolveUser(ctx context.Context, userID string) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return types.User{}, fmt.Errorf("%w: id=%s", ErrUnknownUser, userID)
	}
	return u, nil
}

// ResolveRole implements Directory.
func (d *StaticDirectory) ResolveRole(ctx context.Context, userID string) (string, error) {
	u, err := d.ResolveUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.RoleCode, nil
}

// ListCandidateAssignees implements Directory. Results are ordered by ID.
func (d *StaticDirectory) ListCandidateAssignees(ctx context.Context, applicationID string) ([]types.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []types.User
	if ids, ok := d.restricted[applicationID]; ok {
		for _, id := range ids {
			out = append(out, d.users[id])
		}
	} else {
		for _, u := range d.users {
			if _, skip := d.excluded[u.RoleCode]; !skip {
				out = append(out, u)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
