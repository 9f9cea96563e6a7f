package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"notifybridge/internal/common"
	"notifybridge/internal/domain/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, path, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLobbySourceFiltersByMapPrefix(t *testing.T) {
	srv := serve(t, "/gamelist", `{
		"status": "OK",
		"body": [
			{"id": 2, "name": "itt pro", "map": "Island.Troll.Tribes.v3.28.w3x", "host": "alice", "server": "usw", "slotsTaken": 5, "slotsTotal": 12, "created": 1717264800},
			{"id": 1, "name": "dota", "map": "DotA v6.83.w3x", "host": "bob", "server": "eu", "slotsTaken": 9, "slotsTotal": 10, "created": 1717264700},
			{"id": 3, "name": "island.troll.tribes fun", "map": "", "host": "carol", "server": "eu", "slotsTaken": 1, "slotsTotal": 12, "created": 1717264900}
		]
	}`, http.StatusOK)

	s := NewLobbySource(srv.URL, "", time.Second)
	entities, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)

	assert.Equal(t, "2", entities[0].ExternalID)
	assert.Equal(t, time.Unix(1717264800, 0).UTC(), entities[0].CreatedAt)
	lobby := entities[0].Payload.(*notification.Lobby)
	assert.Equal(t, "alice", lobby.Host)
	assert.Equal(t, "5/12", lobby.Slots())

	assert.Equal(t, "3", entities[1].ExternalID, "falls back to the lobby name when map is empty")
}

func TestLobbySourceRejectsBadResponses(t *testing.T) {
	cases := map[string]struct {
		body   string
		status int
	}{
		"status not ok":  {`{"status": "ERROR", "body": []}`, http.StatusOK},
		"body not array": {`{"status": "OK", "body": {"id": 1}}`, http.StatusOK},
		"missing body":   {`{"status": "OK"}`, http.StatusOK},
		"http error":     {`oops`, http.StatusBadGateway},
		"not json":       {`<html>`, http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, "/gamelist", tc.body, tc.status)
			_, err := NewLobbySource(srv.URL, "", time.Second).Fetch(context.Background())
			var unavailable *common.SourceUnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, "wc3stats", unavailable.Source)
		})
	}
}

func TestLobbySourceEmptyListIsNotAnError(t *testing.T) {
	srv := serve(t, "/gamelist", `{"status": "OK", "body": []}`, http.StatusOK)
	entities, err := NewLobbySource(srv.URL, "", time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestCompletedGameSource(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"data": {"games": [
			{"gameId": 1002, "gamename": "late", "datetime": "2024-06-01T18:30:00Z", "players": [{"name": "a", "slot": 0, "flag": "winner"}, {"name": "b", "slot": 1, "flag": "loser"}]},
			{"id": "doc-1", "gamename": "firestore", "createdAt": {"seconds": 1717264800, "nanoseconds": 0}, "playerCount": 10},
			{"gamename": "no id"},
			{"gameId": "1001", "gamename": "millis", "datetime": 1717263000000}
		]}}`)
	}))
	defer srv.Close()

	s := NewCompletedGameSource(srv.URL, 10, time.Second)
	entities, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Contains(t, query, "gameState=completed")
	assert.Contains(t, query, "includePlayers=true")
	assert.Contains(t, query, "limit=10")

	assert.Equal(t, []string{"1001", "doc-1", "1002"}, []string{entities[0].ExternalID, entities[1].ExternalID, entities[2].ExternalID})

	late := entities[2].Payload.(*notification.CompletedGame)
	assert.Equal(t, 2, late.PlayerCount)
	assert.Equal(t, "winner", late.Players[0].Result)

	fs := entities[1].Payload.(*notification.CompletedGame)
	assert.Equal(t, 10, fs.PlayerCount)
	assert.Equal(t, time.Unix(1717264800, 0).UTC(), fs.CompletedAt)
}

func TestReminderSourceExpandsParticipants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "scheduled", r.URL.Query().Get("gameState"))
		_, _ = io.WriteString(w, `{"data": {"games": [
			{"gameId": 77, "teamSize": "2v2", "gameType": "normal",
			 "scheduledDateTimeString": "2024-06-01T20:00:00Z",
			 "participants": [{"discordId": "u1", "name": "A"}, {"discordId": "u2", "name": "B"}, {"discordId": "", "name": "ghost"}, {"discordId": "u1", "name": "A again"}]},
			{"gameId": 78, "scheduledDateTime": 1717272000, "participants": [{"discordId": "u3"}]},
			{"gameId": 79, "participants": [{"discordId": "u4"}]}
		]}}`)
	}))
	defer srv.Close()

	s := NewReminderSource(srv.URL, 20, 10*time.Minute, time.Second)
	entities, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 3)

	assert.Equal(t, "77:u1", entities[0].ExternalID)
	assert.Equal(t, "77:u2", entities[1].ExternalID)
	assert.Equal(t, "78:u3", entities[2].ExternalID)

	rem := entities[0].Payload.(*notification.Reminder)
	assert.Equal(t, "u1", rem.UserID)
	assert.Equal(t, "2v2", rem.TeamSize)
	assert.Equal(t, time.Date(2024, 6, 1, 19, 50, 0, 0, time.UTC), rem.ReminderTime())

	other := entities[2].Payload.(*notification.Reminder)
	assert.Equal(t, time.Unix(1717272000, 0).UTC(), other.EventTime)
}

func TestFlexTimeShapes(t *testing.T) {
	want := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"rfc3339":         `"2024-06-01T18:00:00Z"`,
		"offset":          `"2024-06-01T20:00:00+02:00"`,
		"seconds":         `1717264800`,
		"millis":          `1717264800000`,
		"firestore":       `{"seconds": 1717264800, "nanoseconds": 0}`,
		"firestore admin": `{"_seconds": 1717264800, "_nanoseconds": 0}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var ft flexTime
			require.NoError(t, json.Unmarshal([]byte(raw), &ft))
			assert.True(t, want.Equal(ft.Time), "got %s", ft.Time)
		})
	}

	var empty flexTime
	require.NoError(t, json.Unmarshal([]byte(`null`), &empty))
	assert.True(t, empty.IsZero())

	for _, raw := range []string{`"next tuesday"`, `true`, `[1]`, `{"seconds": "soon"}`} {
		bad := flexTime{Time: want}
		require.NoError(t, json.Unmarshal([]byte(raw), &bad), raw)
		assert.True(t, bad.IsZero(), raw)
	}
}

func TestCompletedGameSourceKeepsValidGamesBesideMalformedOnes(t *testing.T) {
	srv := serve(t, "/api/games", `{"data": {"games": [
		{"gameId": 1, "datetime": "2024-06-01T18:00:00Z"},
		{"gameId": 2, "datetime": "not a date"},
		{"gameId": 3, "datetime": "also bad", "createdAt": 1717264700},
		{"gameId": 4, "playerCount": "ten"},
		{"gameId": {"nested": true}, "datetime": "2024-06-01T18:00:00Z"}
	]}}`, http.StatusOK)

	s := NewCompletedGameSource(srv.URL, 10, time.Second)
	entities, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 3)

	byID := map[string]notification.Entity{}
	for _, e := range entities {
		byID[e.ExternalID] = e
	}
	require.Contains(t, byID, "1")
	require.Contains(t, byID, "2")
	require.Contains(t, byID, "3")

	assert.Equal(t, time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC), byID["1"].CreatedAt)
	assert.True(t, byID["2"].CreatedAt.IsZero())
	assert.Equal(t, time.Unix(1717264700, 0).UTC(), byID["3"].CreatedAt)
}

func TestReminderSourceSkipsGamesWithMalformedStart(t *testing.T) {
	srv := serve(t, "/api/games", `{"data": {"games": [
		{"gameId": 5, "scheduledDateTime": "whenever", "participants": [{"discordId": "u1"}]},
		{"gameId": 6, "scheduledDateTime": 1717272000, "participants": [{"discordId": "u2"}]}
	]}}`, http.StatusOK)

	s := NewReminderSource(srv.URL, 20, 10*time.Minute, time.Second)
	entities, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "6:u2", entities[0].ExternalID)
}
