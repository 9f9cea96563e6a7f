package template

import (
	"testing"
	"time"

	"notifybridge/internal/domain/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderLobby(t *testing.T) {
	e, err := NewEngine("ITT lobbies")
	require.NoError(t, err)

	msg, err := e.Render(&notification.Lobby{
		ID: 9, Name: "itt pro", Map: "Island.Troll.Tribes.v3.28", Host: "alice", Server: "usw",
		SlotsTaken: 5, SlotsTotal: 12,
	})
	require.NoError(t, err)

	assert.Equal(t, "New lobby: itt pro", msg.Title)
	assert.Contains(t, msg.Description, "Hosted by alice, 5/12 slots filled.")
	assert.Equal(t, colorLobby, msg.Color)
	assert.Equal(t, "ITT lobbies", msg.Footer)
	require.Len(t, msg.Fields, 4)
	assert.Equal(t, "5/12", msg.Fields[2].Value)
}

func TestRenderCompletedGame(t *testing.T) {
	e, err := NewEngine("")
	require.NoError(t, err)

	msg, err := e.Render(&notification.CompletedGame{
		GameID:      "1001",
		Name:        "ranked 5v5",
		PlayerCount: 2,
		Players:     []notification.Player{{Name: "a", Result: "winner"}, {Name: "b"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Game #1001 completed", msg.Title)
	assert.Equal(t, "**ranked 5v5** finished with 2 players.", msg.Description)
	assert.Equal(t, "a (winner)\nb", msg.Fields[len(msg.Fields)-1].Value)
}

func TestRenderReminder(t *testing.T) {
	e, err := NewEngine("")
	require.NoError(t, err)

	msg, err := e.Render(&notification.Reminder{GameID: "77", TeamSize: "2v2", GameType: "normal", Lead: 10 * time.Minute})
	require.NoError(t, err)

	assert.Equal(t, "⏰ Reminder: Game #77 (2v2 normal) starts in 10 minutes.", msg.Text)
	assert.Empty(t, msg.Title)
}

func TestRenderUnknownPayload(t *testing.T) {
	e, err := NewEngine("")
	require.NoError(t, err)

	_, err = e.Render(nil)
	assert.Error(t, err)
}
