package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notifybridge/internal/common"
	"notifybridge/internal/domain/notification"
)

const (
	DefaultWC3StatsBase = "https://api.wc3stats.com"
	DefaultMapPrefix    = "island.troll.tribes"
)

var _ notification.Source = (*LobbySource)(nil)

// LobbySource lists open lobbies from the wc3stats game list, keeping only
// those whose map matches the configured prefix.
type LobbySource struct {
	baseURL   string
	mapPrefix string
	http      httpClient
	now       func() time.Time
}

// NewLobbySource creates a wc3stats lobby source.
func NewLobbySource(baseURL, mapPrefix string, timeout time.Duration) *LobbySource {
	if baseURL == "" {
		baseURL = DefaultWC3StatsBase
	}
	if mapPrefix == "" {
		mapPrefix = DefaultMapPrefix
	}
	return &LobbySource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		mapPrefix: strings.ToLower(mapPrefix),
		http:      newHTTPClient(timeout),
		now:       time.Now,
	}
}

func (s *LobbySource) Name() string { return "wc3stats" }

type gameListResponse struct {
	Status string       `json:"status"`
	Body   []lobbyEntry `json:"body"`
}

type lobbyEntry struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Map        string `json:"map"`
	Host       string `json:"host"`
	Server     string `json:"server"`
	SlotsTaken int    `json:"slotsTaken"`
	SlotsTotal int    `json:"slotsTotal"`
	Created    int64  `json:"created"`
}

// Fetch returns the matching lobbies as entities keyed by lobby id.
func (s *LobbySource) Fetch(ctx context.Context) ([]notification.Entity, error) {
	var resp gameListResponse
	if err := s.http.getJSON(ctx, s.baseURL+"/gamelist", &resp); err != nil {
		return nil, common.NewSourceUnavailableError(s.Name(), err)
	}
	if resp.Status != "OK" || resp.Body == nil {
		return nil, common.NewSourceUnavailableError(s.Name(), fmt.Errorf("invalid response structure (status %q)", resp.Status))
	}

	observed := s.now()
	entities := make([]notification.Entity, 0, len(resp.Body))
	for _, l := range resp.Body {
		if l.ID == 0 || !s.matches(l) {
			continue
		}
		created := time.Unix(l.Created, 0).UTC()
		entities = append(entities, notification.Entity{
			ExternalID: fmt.Sprintf("%d", l.ID),
			CreatedAt:  created,
			ObservedAt: observed,
			Payload: &notification.Lobby{
				ID:         l.ID,
				Name:       l.Name,
				Map:        l.Map,
				Host:       l.Host,
				Server:     l.Server,
				SlotsTaken: l.SlotsTaken,
				SlotsTotal: l.SlotsTotal,
				Created:    created,
			},
		})
	}
	return entities, nil
}

func (s *LobbySource) matches(l lobbyEntry) bool {
	name := l.Map
	if name == "" {
		name = l.Name
	}
	return strings.HasPrefix(strings.ToLower(name), s.mapPrefix)
}
