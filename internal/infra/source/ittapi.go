package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"notifybridge/internal/common"
	"notifybridge/internal/domain/notification"
)

const (
	defaultCompletedLimit = 10
	defaultScheduledLimit = 20
)

var (
	_ notification.Source = (*CompletedGameSource)(nil)
	_ notification.Source = (*ReminderSource)(nil)
)

type gamesResponse struct {
	Data struct {
		Games []json.RawMessage `json:"games"`
	} `json:"data"`
}

type gameEntry struct {
	ID                      flexID        `json:"id"`
	GameID                  flexID        `json:"gameId"`
	GameName                string        `json:"gamename"`
	Category                string        `json:"category"`
	Map                     string        `json:"map"`
	PlayerCount             int           `json:"playerCount"`
	Players                 []playerEntry `json:"players"`
	Datetime                flexTime      `json:"datetime"`
	CreatedAt               flexTime      `json:"createdAt"`
	ScheduledDateTime       flexTime      `json:"scheduledDateTime"`
	ScheduledDateTimeString flexTime      `json:"scheduledDateTimeString"`
	TeamSize                string        `json:"teamSize"`
	GameType                string        `json:"gameType"`
	Participants            []participant `json:"participants"`
}

type playerEntry struct {
	Name string `json:"name"`
	Slot int    `json:"slot"`
	Flag string `json:"flag"`
}

type participant struct {
	DiscordID string `json:"discordId"`
	Name      string `json:"name"`
}

// publicID prefers the backend's public game number over the document id.
func (g *gameEntry) publicID() string {
	if g.GameID != "" {
		return string(g.GameID)
	}
	return string(g.ID)
}

func fetchGames(ctx context.Context, c httpClient, base, state string, limit int, extra url.Values) ([]gameEntry, error) {
	q := url.Values{}
	q.Set("gameState", state)
	q.Set("limit", strconv.Itoa(limit))
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	var resp gamesResponse
	if err := c.getJSON(ctx, base+"/api/games?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	// Entries are decoded one by one so a malformed game is dropped alone.
	games := make([]gameEntry, 0, len(resp.Data.Games))
	for i, raw := range resp.Data.Games {
		var g gameEntry
		if err := json.Unmarshal(raw, &g); err != nil {
			slog.Warn("Skipping malformed game entry", "state", state, "index", i, "error", err)
			continue
		}
		games = append(games, g)
	}
	return games, nil
}

// CompletedGameSource lists recently completed games from the game backend.
type CompletedGameSource struct {
	baseURL string
	limit   int
	http    httpClient
	now     func() time.Time
}

// NewCompletedGameSource creates a completed-games source.
func NewCompletedGameSource(baseURL string, limit int, timeout time.Duration) *CompletedGameSource {
	if limit <= 0 {
		limit = defaultCompletedLimit
	}
	return &CompletedGameSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		http:    newHTTPClient(timeout),
		now:     time.Now,
	}
}

func (s *CompletedGameSource) Name() string { return "itt-completed" }

// Fetch returns completed games, oldest first. Games without an id are dropped.
func (s *CompletedGameSource) Fetch(ctx context.Context) ([]notification.Entity, error) {
	games, err := fetchGames(ctx, s.http, s.baseURL, "completed", s.limit, url.Values{"includePlayers": {"true"}})
	if err != nil {
		return nil, common.NewSourceUnavailableError(s.Name(), err)
	}

	observed := s.now()
	entities := make([]notification.Entity, 0, len(games))
	for i := range games {
		g := &games[i]
		id := g.publicID()
		if id == "" {
			continue
		}

		completed := g.Datetime.Time
		if completed.IsZero() {
			completed = g.CreatedAt.Time
		}

		players := make([]notification.Player, 0, len(g.Players))
		for _, p := range g.Players {
			players = append(players, notification.Player{Name: p.Name, Slot: p.Slot, Result: p.Flag})
		}
		count := g.PlayerCount
		if count == 0 {
			count = len(players)
		}

		entities = append(entities, notification.Entity{
			ExternalID: id,
			CreatedAt:  completed,
			ObservedAt: observed,
			Payload: &notification.CompletedGame{
				GameID:      id,
				Name:        g.GameName,
				Category:    g.Category,
				Map:         g.Map,
				Players:     players,
				PlayerCount: count,
				CompletedAt: completed,
			},
		})
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].CreatedAt.Before(entities[j].CreatedAt)
	})
	return entities, nil
}

// ReminderSource expands scheduled games into one reminder per participant.
type ReminderSource struct {
	baseURL string
	limit   int
	lead    time.Duration
	http    httpClient
	now     func() time.Time
}

// NewReminderSource creates a reminder source; lead is how long before the
// game start a reminder becomes due.
func NewReminderSource(baseURL string, limit int, lead, timeout time.Duration) *ReminderSource {
	if limit <= 0 {
		limit = defaultScheduledLimit
	}
	return &ReminderSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		lead:    lead,
		http:    newHTTPClient(timeout),
		now:     time.Now,
	}
}

func (s *ReminderSource) Name() string { return "itt-scheduled" }

// Fetch returns one entity per (game, participant) with id "{gameId}:{discordId}".
// Games without an id or a start time and participants without a Discord id are skipped.
func (s *ReminderSource) Fetch(ctx context.Context) ([]notification.Entity, error) {
	games, err := fetchGames(ctx, s.http, s.baseURL, "scheduled", s.limit, nil)
	if err != nil {
		return nil, common.NewSourceUnavailableError(s.Name(), err)
	}

	observed := s.now()
	var entities []notification.Entity
	for i := range games {
		g := &games[i]
		id := g.publicID()
		start := g.ScheduledDateTimeString.Time
		if start.IsZero() {
			start = g.ScheduledDateTime.Time
		}
		if id == "" || start.IsZero() {
			continue
		}

		seen := make(map[string]bool, len(g.Participants))
		for _, p := range g.Participants {
			if p.DiscordID == "" || seen[p.DiscordID] {
				continue
			}
			seen[p.DiscordID] = true
			entities = append(entities, notification.Entity{
				ExternalID: fmt.Sprintf("%s:%s", id, p.DiscordID),
				CreatedAt:  start,
				ObservedAt: observed,
				Payload: &notification.Reminder{
					GameID:    id,
					UserID:    p.DiscordID,
					TeamSize:  g.TeamSize,
					GameType:  g.GameType,
					EventTime: start,
					Lead:      s.lead,
				},
			})
		}
	}
	return entities, nil
}
