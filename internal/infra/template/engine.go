package template

import (
	"bytes"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"notifybridge/internal/domain/notification"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var _ notification.Renderer = (*Engine)(nil)

// Embed colors (decimal color values).
const (
	colorLobby     = 0x4CAF50 // Green
	colorCompleted = 0x2196F3 // Blue
)

const maxFieldValue = 1024

// Engine renders payloads into chat messages using Go's text/template package.
type Engine struct {
	templates *template.Template
	footer    string
}

// NewEngine parses the embedded templates. footer is appended to channel messages.
func NewEngine(footer string) (*Engine, error) {
	tmpl, err := template.New("notifybridge").
		Funcs(template.FuncMap{"minutes": minutes}).
		ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Engine{templates: tmpl, footer: footer}, nil
}

// Render produces the message for one payload.
func (e *Engine) Render(p notification.Payload) (*notification.Message, error) {
	switch v := p.(type) {
	case *notification.Lobby:
		return e.renderLobby(v)
	case *notification.CompletedGame:
		return e.renderCompleted(v)
	case *notification.Reminder:
		text, err := e.execute("reminder", v)
		if err != nil {
			return nil, err
		}
		return &notification.Message{Text: text}, nil
	default:
		return nil, fmt.Errorf("no template registered for payload %T", p)
	}
}

func (e *Engine) renderLobby(l *notification.Lobby) (*notification.Message, error) {
	desc, err := e.execute("lobby", l)
	if err != nil {
		return nil, err
	}
	return &notification.Message{
		Title:       "New lobby: " + l.Name,
		Description: desc,
		Color:       colorLobby,
		Fields: []notification.MessageField{
			{Name: "Host", Value: orDash(l.Host), Inline: true},
			{Name: "Server", Value: orDash(l.Server), Inline: true},
			{Name: "Slots", Value: l.Slots(), Inline: true},
			{Name: "Map", Value: orDash(l.Map)},
		},
		Footer: e.footer,
	}, nil
}

func (e *Engine) renderCompleted(g *notification.CompletedGame) (*notification.Message, error) {
	desc, err := e.execute("completed_game", g)
	if err != nil {
		return nil, err
	}

	fields := []notification.MessageField{
		{Name: "Players", Value: strconv.Itoa(g.PlayerCount), Inline: true},
	}
	if g.Map != "" {
		fields = append(fields, notification.MessageField{Name: "Map", Value: g.Map, Inline: true})
	}
	if len(g.Players) > 0 {
		lines := make([]string, 0, len(g.Players))
		for _, p := range g.Players {
			line := p.Name
			if p.Result != "" {
				line += " (" + p.Result + ")"
			}
			lines = append(lines, line)
		}
		fields = append(fields, notification.MessageField{Name: "Roster", Value: truncate(strings.Join(lines, "\n"), maxFieldValue)})
	}

	return &notification.Message{
		Title:       fmt.Sprintf("Game #%s completed", g.GameID),
		Description: desc,
		Color:       colorCompleted,
		Fields:      fields,
		Footer:      e.footer,
	}, nil
}

func (e *Engine) execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func minutes(d time.Duration) int {
	return int(d.Round(time.Minute) / time.Minute)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
