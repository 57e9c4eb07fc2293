package presence

import (
	"github.com/spaceshq/spaces-server/internal/domain"
	"github.com/spaceshq/spaces-server/internal/registry"
)

// Projector derives observable presence views from the session registry.
// Both projections are pure reads over a registry snapshot, recomputed on
// every call.
type Projector struct {
	registry registry.Registry
}

// NewProjector creates a presence projector over the given registry.
func NewProjector(reg registry.Registry) *Projector {
	return &Projector{registry: reg}
}

// SpaceRoster lists every session currently in ModeSpace for the given
// space, in registry insertion order. Sessions in a direct conversation
// are not part of any roster.
func (p *Projector) SpaceRoster(space string) []domain.SpaceUser {
	users := make([]domain.SpaceUser, 0)
	for _, s := range p.registry.Snapshot() {
		if s.InSpace(space) {
			users = append(users, domain.SpaceUser{
				ConnectionID: s.ConnectionID,
				Nickname:     s.Nickname,
			})
		}
	}
	return users
}

// GlobalIdentities lists the distinct nicknames across all sessions
// regardless of mode, deduplicated, first-seen order preserved.
func (p *Projector) GlobalIdentities() []domain.Identity {
	seen := make(map[string]struct{})
	identities := make([]domain.Identity, 0)
	for _, s := range p.registry.Snapshot() {
		if _, ok := seen[s.Nickname]; ok {
			continue
		}
		seen[s.Nickname] = struct{}{}
		identities = append(identities, domain.Identity{Nickname: s.Nickname})
	}
	return identities
}
