package chat

import (
	"github.com/veritest/veritest/internal/chat/events"
)

// Outcome names the branch Reconcile took for an incoming message.
type Outcome int

const (
	// OutcomeAppended means the message was new and added to the end.
	OutcomeAppended Outcome = iota
	// OutcomeDuplicate means a canonical entry with the same durable id
	// already existed; the list is unchanged.
	OutcomeDuplicate
	// OutcomeReplacedPending means the message resolved a local optimistic
	// entry, replacing it at its position.
	OutcomeReplacedPending
	// OutcomeTombstoned means an existing entry was converted to its
	// deleted form in place.
	OutcomeTombstoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeReplacedPending:
		return "replace-pending"
	case OutcomeTombstoned:
		return "tombstone"
	default:
		return "new"
	}
}

// Reconcile merges one incoming canonical message into an ordered message
// list and reports which branch applied. It is pure: the input slice is
// never mutated, and applying the same event twice yields the same list the
// second time (the duplicate branch).
//
// Branches, in order of precedence:
//
//   - tombstone: incoming is deleted and an entry with its id exists; that
//     entry becomes the tombstone, position preserved.
//   - duplicate: an entry with the same durable id exists. This covers the
//     double-delivery of persistence response plus socket echo, and overlap
//     between a fetched page and already-applied events. The existing,
//     already-resolved entry wins.
//   - replace-pending: the sender is the current user and a pending entry
//     with matching content and kind exists; the canonical message takes
//     its place without re-sorting.
//   - new: appended to the end.
func Reconcile(list []events.Message, incoming events.Message, currentUserID string) ([]events.Message, Outcome) {
	for i, m := range list {
		if m.ID != incoming.ID {
			continue
		}
		if incoming.Deleted && !m.Deleted {
			out := cloneList(list)
			out[i].Tombstone()
			return out, OutcomeTombstoned
		}
		return list, OutcomeDuplicate
	}

	if incoming.Deleted {
		// Tombstone for a message we never loaded; nothing to preserve.
		return list, OutcomeDuplicate
	}

	if incoming.Sender.ID == currentUserID {
		for i, m := range list {
			if m.Pending && m.Content == incoming.Content && m.Kind == incoming.Kind {
				out := cloneList(list)
				out[i] = incoming
				return out, OutcomeReplacedPending
			}
		}
	}

	out := make([]events.Message, len(list), len(list)+1)
	copy(out, list)
	return append(out, incoming), OutcomeAppended
}

func cloneList(list []events.Message) []events.Message {
	out := make([]events.Message, len(list))
	copy(out, list)
	return out
}
