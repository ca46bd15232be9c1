package identity

import (
	"context"
	"strings"
	"sync"

	"doc-collab/internal/models"

	"github.com/golang/glog"
	"github.com/google/uuid"
)

// Store persists the guest identity for a client profile.
// Load returns (nil, nil) when nothing has been stored yet.
type Store interface {
	Load(ctx context.Context) (*models.Identity, error)
	Save(ctx context.Context, identity models.Identity) error
}

// Resolver produces the local participant identity, once per client
type Resolver struct {
	store     Store
	authToken string
	newSuffix func() string

	once     sync.Once
	identity models.Identity
}

// NewResolver creates a resolver. authToken may be empty, store may be nil
// (guests are then ephemeral).
func NewResolver(store Store, authToken string) *Resolver {
	return &Resolver{
		store:     store,
		authToken: authToken,
		newSuffix: randomSuffix,
	}
}

// Resolve returns the local identity. It never fails: storage problems
// degrade to an in-memory guest for the lifetime of this resolver.
func (r *Resolver) Resolve(ctx context.Context) models.Identity {
	r.once.Do(func() {
		r.identity = r.resolve(ctx)
	})
	return r.identity
}

func (r *Resolver) resolve(ctx context.Context) models.Identity {
	if r.authToken != "" {
		id, err := FromToken(r.authToken)
		if err == nil {
			return id
		}
		glog.Warningf("⚠️  Ignoring auth token for identity: %v", err)
	}

	if r.store == nil {
		return r.newGuest()
	}

	stored, err := r.store.Load(ctx)
	if err != nil {
		glog.Warningf("⚠️  Guest identity store unreadable, using ephemeral identity: %v", err)
		return r.newGuest()
	}
	if stored != nil && strings.TrimSpace(stored.ID) != "" {
		if strings.TrimSpace(stored.Name) != "" {
			return *stored
		}
		return r.repairName(ctx, *stored)
	}

	guest := r.newGuest()
	if err := r.store.Save(ctx, guest); err != nil {
		glog.Warningf("⚠️  Failed to persist guest identity %s: %v", guest.ID, err)
	}
	return guest
}

// repairName gives a stored identity with a blank name a guest label, derived
// from the guest id when possible, and persists it.
func (r *Resolver) repairName(ctx context.Context, id models.Identity) models.Identity {
	suffix := strings.TrimPrefix(id.ID, models.GuestIDPrefix)
	if suffix == id.ID || suffix == "" {
		suffix = r.newSuffix()
	}
	id.Name = "Guest-" + suffix

	if err := r.store.Save(ctx, id); err != nil {
		glog.Warningf("⚠️  Failed to persist repaired identity %s: %v", id.ID, err)
	}
	return id
}

func (r *Resolver) newGuest() models.Identity {
	suffix := r.newSuffix()
	return models.Identity{
		ID:   models.GuestIDPrefix + suffix,
		Name: "Guest-" + suffix,
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
