package chat

import (
	"sort"
	"sync"

	"github.com/veritest/veritest/internal/chat/events"
)

// PresentUser is one user currently joined to the room.
type PresentUser struct {
	ID   string
	Name string
}

// PresenceTracker maintains the set of users active in the room, driven
// purely by user-joined and user-left events. Display-only: presence never
// gates correctness-sensitive operations.
type PresenceTracker struct {
	mu    sync.Mutex
	users map[string]string // userID -> display name

	onChange func([]PresentUser)
}

// NewPresenceTracker creates an empty tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{users: make(map[string]string)}
}

// OnChange registers a callback invoked with the new presence snapshot
// whenever the set changes.
func (p *PresenceTracker) OnChange(fn func([]PresentUser)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Apply processes a user-joined (joined=true) or user-left event.
func (p *PresenceTracker) Apply(joined bool, ev events.UserPresencePayload) {
	if ev.UserID == "" {
		return
	}

	p.mu.Lock()
	changed := false
	if joined {
		if _, ok := p.users[ev.UserID]; !ok {
			changed = true
		}
		p.users[ev.UserID] = ev.UserName
	} else {
		if _, ok := p.users[ev.UserID]; ok {
			delete(p.users, ev.UserID)
			changed = true
		}
	}
	fn := p.onChange
	var snapshot []PresentUser
	if changed && fn != nil {
		snapshot = p.onlineLocked()
	}
	p.mu.Unlock()

	if changed && fn != nil {
		fn(snapshot)
	}
}

// Online returns the users currently in the room, ordered by id.
func (p *PresenceTracker) Online() []PresentUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onlineLocked()
}

// Reset clears the set, used when the room is left or the connection drops.
func (p *PresenceTracker) Reset() {
	p.mu.Lock()
	p.users = make(map[string]string)
	p.mu.Unlock()
}

func (p *PresenceTracker) onlineLocked() []PresentUser {
	out := make([]PresentUser, 0, len(p.users))
	for id, name := range p.users {
		out = append(out, PresentUser{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
