package notification

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// Instance names one reconciliation loop and the record namespace it owns.
type Instance string

const (
	InstanceLobby         Instance = "lobby"
	InstanceCompletedGame Instance = "completed_game"
	InstanceReminder      Instance = "reminder"
)

var validInstances = map[Instance]bool{
	InstanceLobby:         true,
	InstanceCompletedGame: true,
	InstanceReminder:      true,
}

// IsValidInstance checks whether an instance name is recognized.
func IsValidInstance(i Instance) bool {
	return validInstances[i]
}

// Fingerprint is the minimal subset of an entity's fields used to detect change.
type Fingerprint map[string]string

// Equal reports whether two fingerprints hold the same keys and values.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return maps.Equal(f, other)
}

// Payload is the instance-specific data carried by an Entity.
type Payload interface {
	Fingerprint() Fingerprint
}

// Entity is one external record observed in a source snapshot.
type Entity struct {
	ExternalID string
	CreatedAt  time.Time // source-provided; orders creates within a tick
	ObservedAt time.Time
	Payload    Payload
}

// Lobby is an open game lobby from the public lobby listing.
type Lobby struct {
	ID         int64
	Name       string
	Map        string
	Host       string
	Server     string
	SlotsTaken int
	SlotsTotal int
	Created    time.Time
}

// Slots renders the slot usage as "taken/total".
func (l *Lobby) Slots() string {
	return fmt.Sprintf("%d/%d", l.SlotsTaken, l.SlotsTotal)
}

func (l *Lobby) Fingerprint() Fingerprint {
	return Fingerprint{
		"slots": l.Slots(),
		"host":  l.Host,
		"map":   l.Map,
	}
}

// Player is one participant of a completed game.
type Player struct {
	Name   string
	Slot   int
	Result string
}

// CompletedGame is a finished game reported by the game backend.
type CompletedGame struct {
	GameID      string
	Name        string
	Category    string
	Map         string
	Players     []Player
	PlayerCount int
	CompletedAt time.Time
}

func (g *CompletedGame) Fingerprint() Fingerprint {
	names := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		names = append(names, p.Name)
	}
	return Fingerprint{
		"players": strings.Join(names, ","),
		"count":   strconv.Itoa(g.PlayerCount),
	}
}

// Reminder is a pending direct-message reminder for one participant of a
// scheduled game.
type Reminder struct {
	GameID    string
	UserID    string
	TeamSize  string
	GameType  string
	EventTime time.Time
	Lead      time.Duration
}

// ReminderTime is the moment the reminder becomes due.
func (r *Reminder) ReminderTime() time.Time {
	return r.EventTime.Add(-r.Lead)
}

func (r *Reminder) Fingerprint() Fingerprint {
	return Fingerprint{"event_time": r.EventTime.UTC().Format(time.RFC3339)}
}

// Status is the lifecycle state of a NotificationRecord.
type Status string

const (
	StatusPending  Status = "pending"
	StatusNotified Status = "notified"
	StatusUpdated  Status = "updated"
	StatusSent     Status = "sent"
	StatusFailed   Status = "failed"
)

// IsTerminal reports whether no further automatic transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// IsLive reports whether an outward channel message exists for the record.
func (s Status) IsLive() bool {
	return s == StatusNotified || s == StatusUpdated
}

// Record is the persisted bookkeeping for one entity of one instance.
// The pair (Instance, ExternalID) is the document key.
type Record struct {
	Instance        Instance    `json:"instance"`
	ExternalID      string      `json:"external_id"`
	Status          Status      `json:"status"`
	NotifiedAt      *time.Time  `json:"notified_at,omitempty"`
	LastUpdatedAt   *time.Time  `json:"last_updated_at,omitempty"`
	LastSeenAt      *time.Time  `json:"last_seen_at,omitempty"`
	DueAt           *time.Time  `json:"due_at,omitempty"`
	OutwardHandle   string      `json:"outward_handle,omitempty"`
	RecipientID     string      `json:"recipient_id,omitempty"`
	Fingerprint     Fingerprint `json:"fingerprint,omitempty"`
	SourceCreatedAt time.Time   `json:"source_created_at"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// RecordFilter narrows a record listing from the admin API.
type RecordFilter struct {
	Instance Instance `form:"-"`
	Since    string   `form:"since"`
	Status   string   `form:"status"`
	Limit    int      `form:"limit"`
}

// ListResponse wraps a list of records.
type ListResponse struct {
	Instance Instance  `json:"instance"`
	Records  []*Record `json:"records"`
	Total    int       `json:"total"`
}

func timePtr(t time.Time) *time.Time {
	return &t
}
