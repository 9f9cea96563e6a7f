package notification

import (
	"sort"
	"time"
)

// Mode selects which kind of sink an instance notifies through.
type Mode string

const (
	ModeChannel Mode = "channel" // shared channel messages: create, edit, delete
	ModeDirect  Mode = "direct"  // one-shot direct messages at a due time
)

// ActionKind is one side effect decided by Plan.
type ActionKind string

const (
	ActionCreate   ActionKind = "create"
	ActionUpdate   ActionKind = "update"
	ActionTouch    ActionKind = "touch"
	ActionRetire   ActionKind = "retire"
	ActionSchedule ActionKind = "schedule"
	ActionDeliver  ActionKind = "deliver"
	ActionExpire   ActionKind = "expire"
)

// Action is a single planned step for one external id.
// Entity is nil for retire; Record is nil when no prior record exists.
type Action struct {
	Kind       ActionKind
	ExternalID string
	Entity     *Entity
	Record     *Record
}

// Params describes how one instance is reconciled.
type Params struct {
	Instance       Instance
	Mode           Mode
	SupportsUpdate bool
	SupportsRetire bool

	// RetireGrace is how long a live record may go unseen before its message is retired.
	RetireGrace time.Duration

	// ActiveWindow bounds the records loaded per tick by their last write.
	ActiveWindow time.Duration

	// MaxLookback is how far past its reminder time a reminder may still be delivered.
	MaxLookback time.Duration

	// Horizon is how far ahead of its reminder time a pending record is created.
	Horizon time.Duration
}

// Plan compares a snapshot with the known records and returns the actions
// needed to bring the outward state in line with the source. It performs
// no I/O; records is keyed by external id.
func Plan(p Params, snapshot []Entity, records map[string]*Record, now time.Time) []Action {
	ordered := orderSnapshot(snapshot)

	var actions []Action
	seen := make(map[string]bool, len(ordered))
	for i := range ordered {
		e := &ordered[i]
		seen[e.ExternalID] = true
		rec := records[e.ExternalID]

		var a *Action
		switch p.Mode {
		case ModeDirect:
			a = planDirect(p, e, rec, now)
		default:
			a = planChannel(p, e, rec)
		}
		if a != nil {
			actions = append(actions, *a)
		}
	}

	if p.Mode == ModeChannel && p.SupportsRetire {
		actions = append(actions, planRetire(p, records, seen, now)...)
	}
	return actions
}

// orderSnapshot sorts by source creation time, oldest first, and drops
// repeated ids so a snapshot can never produce two creates for one id.
func orderSnapshot(snapshot []Entity) []Entity {
	out := make([]Entity, 0, len(snapshot))
	dup := make(map[string]bool, len(snapshot))
	for _, e := range snapshot {
		if e.ExternalID == "" || dup[e.ExternalID] {
			continue
		}
		dup[e.ExternalID] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

func planChannel(p Params, e *Entity, rec *Record) *Action {
	if rec == nil || rec.Status == StatusPending {
		return &Action{Kind: ActionCreate, ExternalID: e.ExternalID, Entity: e, Record: rec}
	}
	if !rec.Status.IsLive() {
		return nil
	}
	if p.SupportsUpdate && !e.Payload.Fingerprint().Equal(rec.Fingerprint) {
		return &Action{Kind: ActionUpdate, ExternalID: e.ExternalID, Entity: e, Record: rec}
	}
	if p.SupportsRetire {
		return &Action{Kind: ActionTouch, ExternalID: e.ExternalID, Entity: e, Record: rec}
	}
	return nil
}

func planDirect(p Params, e *Entity, rec *Record, now time.Time) *Action {
	rem, ok := e.Payload.(*Reminder)
	if !ok {
		return nil
	}
	if rec != nil && rec.Status.IsTerminal() {
		return nil
	}

	due := rem.ReminderTime()
	if !now.Before(due) {
		if now.Sub(due) > p.MaxLookback {
			if rec != nil {
				return &Action{Kind: ActionExpire, ExternalID: e.ExternalID, Entity: e, Record: rec}
			}
			return nil
		}
		return &Action{Kind: ActionDeliver, ExternalID: e.ExternalID, Entity: e, Record: rec}
	}

	if rec == nil && (p.Horizon <= 0 || due.Sub(now) <= p.Horizon) {
		return &Action{Kind: ActionSchedule, ExternalID: e.ExternalID, Entity: e}
	}
	return nil
}

func planRetire(p Params, records map[string]*Record, seen map[string]bool, now time.Time) []Action {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var actions []Action
	for _, id := range ids {
		rec := records[id]
		if seen[id] || !rec.Status.IsLive() || rec.OutwardHandle == "" {
			continue
		}
		if now.Sub(lastSeen(rec)) <= p.RetireGrace {
			continue
		}
		actions = append(actions, Action{Kind: ActionRetire, ExternalID: id, Record: rec})
	}
	return actions
}

func lastSeen(rec *Record) time.Time {
	switch {
	case rec.LastSeenAt != nil:
		return *rec.LastSeenAt
	case rec.LastUpdatedAt != nil:
		return *rec.LastUpdatedAt
	case rec.NotifiedAt != nil:
		return *rec.NotifiedAt
	default:
		return rec.UpdatedAt
	}
}
