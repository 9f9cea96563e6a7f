package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var planNow = time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)

func lobbyParams() Params {
	return Params{
		Instance:       InstanceLobby,
		Mode:           ModeChannel,
		SupportsUpdate: true,
		SupportsRetire: true,
		RetireGrace:    3 * time.Minute,
	}
}

func reminderParams() Params {
	return Params{
		Instance:    InstanceReminder,
		Mode:        ModeDirect,
		MaxLookback: 15 * time.Minute,
		Horizon:     24 * time.Hour,
	}
}

func lobbyEntity(id string, created time.Time, taken int) Entity {
	return Entity{
		ExternalID: id,
		CreatedAt:  created,
		Payload:    &Lobby{Name: "ITT " + id, Map: "Island.Troll.Tribes.w3x", Host: "host", SlotsTaken: taken, SlotsTotal: 12},
	}
}

func reminderEntity(id string, event time.Time) Entity {
	return Entity{
		ExternalID: id,
		Payload:    &Reminder{GameID: "77", UserID: "u1", EventTime: event, Lead: 10 * time.Minute},
	}
}

func liveRecord(e Entity, seen time.Time) *Record {
	return &Record{
		Instance:      InstanceLobby,
		ExternalID:    e.ExternalID,
		Status:        StatusNotified,
		OutwardHandle: "msg-" + e.ExternalID,
		Fingerprint:   e.Payload.Fingerprint(),
		LastSeenAt:    &seen,
	}
}

func kinds(actions []Action) []ActionKind {
	out := make([]ActionKind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

func TestPlanCreatesNewEntitiesOldestFirst(t *testing.T) {
	snapshot := []Entity{
		lobbyEntity("b", planNow.Add(-time.Minute), 1),
		lobbyEntity("a", planNow.Add(-2*time.Minute), 1),
		lobbyEntity("c", planNow.Add(-time.Minute), 1),
	}

	actions := Plan(lobbyParams(), snapshot, nil, planNow)

	require.Len(t, actions, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{actions[0].ExternalID, actions[1].ExternalID, actions[2].ExternalID})
	for _, a := range actions {
		assert.Equal(t, ActionCreate, a.Kind)
	}
}

func TestPlanNeverCreatesTwiceForOneID(t *testing.T) {
	e := lobbyEntity("a", planNow, 1)
	actions := Plan(lobbyParams(), []Entity{e, e}, nil, planNow)
	assert.Equal(t, []ActionKind{ActionCreate}, kinds(actions))
}

func TestPlanIsIdempotentForUnchangedSnapshot(t *testing.T) {
	e := lobbyEntity("a", planNow, 1)
	records := map[string]*Record{"a": liveRecord(e, planNow.Add(-30*time.Second))}

	actions := Plan(lobbyParams(), []Entity{e}, records, planNow)
	assert.Equal(t, []ActionKind{ActionTouch}, kinds(actions))
}

func TestPlanUpdatesOnFingerprintChange(t *testing.T) {
	e := lobbyEntity("a", planNow, 1)
	records := map[string]*Record{"a": liveRecord(e, planNow)}

	changed := lobbyEntity("a", planNow, 5)
	actions := Plan(lobbyParams(), []Entity{changed}, records, planNow)

	require.Len(t, actions, 1)
	assert.Equal(t, ActionUpdate, actions[0].Kind)
	assert.Same(t, records["a"], actions[0].Record)
}

func TestPlanSkipsFailedRecords(t *testing.T) {
	e := lobbyEntity("a", planNow, 1)
	records := map[string]*Record{"a": {Instance: InstanceLobby, ExternalID: "a", Status: StatusFailed}}

	assert.Empty(t, Plan(lobbyParams(), []Entity{e}, records, planNow))
}

func TestPlanRecreatesPendingChannelRecord(t *testing.T) {
	e := lobbyEntity("a", planNow, 1)
	records := map[string]*Record{"a": {Instance: InstanceLobby, ExternalID: "a", Status: StatusPending}}

	assert.Equal(t, []ActionKind{ActionCreate}, kinds(Plan(lobbyParams(), []Entity{e}, records, planNow)))
}

func TestPlanRetiresAfterGrace(t *testing.T) {
	gone := lobbyEntity("gone", planNow, 1)
	recent := lobbyEntity("recent", planNow, 1)
	records := map[string]*Record{
		"gone":   liveRecord(gone, planNow.Add(-4*time.Minute)),
		"recent": liveRecord(recent, planNow.Add(-time.Minute)),
	}

	actions := Plan(lobbyParams(), nil, records, planNow)

	require.Len(t, actions, 1)
	assert.Equal(t, ActionRetire, actions[0].Kind)
	assert.Equal(t, "gone", actions[0].ExternalID)
	assert.Nil(t, actions[0].Entity)
}

func TestPlanRetireSkipsRecordsWithoutHandle(t *testing.T) {
	e := lobbyEntity("a", planNow, 1)
	rec := liveRecord(e, planNow.Add(-time.Hour))
	rec.OutwardHandle = ""

	assert.Empty(t, Plan(lobbyParams(), nil, map[string]*Record{"a": rec}, planNow))
}

func TestPlanWithoutUpdateOrRetireLeavesLiveRecordsAlone(t *testing.T) {
	p := Params{Instance: InstanceCompletedGame, Mode: ModeChannel}
	e := Entity{ExternalID: "g1", Payload: &CompletedGame{GameID: "g1", PlayerCount: 2}}
	records := map[string]*Record{"g1": {ExternalID: "g1", Status: StatusNotified, OutwardHandle: "m"}}

	assert.Empty(t, Plan(p, []Entity{e}, records, planNow))
	assert.Empty(t, Plan(p, nil, records, planNow), "no retire when unsupported")
}

func TestPlanReminderWindow(t *testing.T) {
	pending := func(id string) map[string]*Record {
		return map[string]*Record{id: {Instance: InstanceReminder, ExternalID: id, Status: StatusPending}}
	}

	tests := []struct {
		name    string
		event   time.Time
		records map[string]*Record
		want    []ActionKind
	}{
		{"due now", planNow.Add(10 * time.Minute), nil, []ActionKind{ActionDeliver}},
		{"due within lookback", planNow.Add(-4 * time.Minute), pending("r"), []ActionKind{ActionDeliver}},
		{"past lookback with record", planNow.Add(-30 * time.Minute), pending("r"), []ActionKind{ActionExpire}},
		{"past lookback without record", planNow.Add(-30 * time.Minute), nil, nil},
		{"future inside horizon", planNow.Add(2 * time.Hour), nil, []ActionKind{ActionSchedule}},
		{"future already pending", planNow.Add(2 * time.Hour), pending("r"), nil},
		{"future beyond horizon", planNow.Add(48 * time.Hour), nil, nil},
		{"already sent", planNow.Add(5 * time.Minute), map[string]*Record{"r": {ExternalID: "r", Status: StatusSent}}, nil},
		{"failed", planNow.Add(5 * time.Minute), map[string]*Record{"r": {ExternalID: "r", Status: StatusFailed}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actions := Plan(reminderParams(), []Entity{reminderEntity("r", tt.event)}, tt.records, planNow)
			if tt.want == nil {
				assert.Empty(t, actions)
				return
			}
			assert.Equal(t, tt.want, kinds(actions))
		})
	}
}

func TestPlanReminderUnlimitedHorizon(t *testing.T) {
	p := reminderParams()
	p.Horizon = 0
	actions := Plan(p, []Entity{reminderEntity("r", planNow.Add(30*24*time.Hour))}, nil, planNow)
	assert.Equal(t, []ActionKind{ActionSchedule}, kinds(actions))
}

func TestFilterMatches(t *testing.T) {
	notified := planNow.Add(-time.Hour)
	rec := &Record{Status: StatusSent, UpdatedAt: planNow, NotifiedAt: &notified}

	assert.True(t, Filter{Field: FieldUpdatedAt, Op: OpGTE, Value: planNow}.Matches(rec))
	assert.False(t, Filter{Field: FieldUpdatedAt, Op: OpLT, Value: planNow}.Matches(rec))
	assert.True(t, Filter{Field: FieldNotifiedAt, Op: OpLT, Value: planNow}.Matches(rec))
	assert.False(t, Filter{Field: FieldNotifiedAt, Op: OpLT, Value: planNow, Statuses: []Status{StatusPending}}.Matches(rec))
	assert.False(t, Filter{Field: FieldNotifiedAt, Op: OpGTE, Value: planNow}.Matches(&Record{}))
}
