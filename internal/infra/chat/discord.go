package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"notifybridge/internal/common"
	"notifybridge/internal/domain/notification"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

var (
	_ notification.ChannelSink = (*ChannelSink)(nil)
	_ notification.DirectSink  = (*Discord)(nil)
)

// discordAPI is the subset of *discordgo.Session the sinks use.
type discordAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// NewSession creates a REST-only Discord session for a bot token.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return s, nil
}

// Discord sends rendered notifications through the Discord REST API.
// Every outbound call waits on a shared limiter.
type Discord struct {
	api      discordAPI
	renderer notification.Renderer
	limiter  *rate.Limiter
}

// NewDiscord creates the Discord sink. perSecond <= 0 disables pacing.
func NewDiscord(api discordAPI, renderer notification.Renderer, perSecond float64, burst int) *Discord {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Discord{
		api:      api,
		renderer: renderer,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Channel returns a ChannelSink posting to channelID.
func (d *Discord) Channel(channelID string) *ChannelSink {
	return &ChannelSink{discord: d, channelID: channelID}
}

// Deliver sends the rendered payload to the user's DM channel.
func (d *Discord) Deliver(ctx context.Context, userID string, p notification.Payload) error {
	msg, err := d.renderer.Render(p)
	if err != nil {
		return common.NewSinkDeliveryFailedError(userID, err.Error())
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	dm, err := d.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return directError(userID, err)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if msg.Text != "" && msg.Title == "" {
		_, err = d.api.ChannelMessageSend(dm.ID, msg.Text, discordgo.WithContext(ctx))
	} else {
		_, err = d.api.ChannelMessageSendComplex(dm.ID, toMessageSend(msg), discordgo.WithContext(ctx))
	}
	if err != nil {
		return directError(userID, err)
	}
	return nil
}

// ChannelSink posts, edits and deletes messages in one channel.
type ChannelSink struct {
	discord   *Discord
	channelID string
}

// Create posts the rendered payload and returns the message id.
func (c *ChannelSink) Create(ctx context.Context, p notification.Payload) (string, error) {
	msg, err := c.discord.renderer.Render(p)
	if err != nil {
		return "", common.NewSinkDeliveryFailedError(c.channelID, err.Error())
	}
	if err := c.discord.limiter.Wait(ctx); err != nil {
		return "", err
	}

	sent, err := c.discord.api.ChannelMessageSendComplex(c.channelID, toMessageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", createError(c.channelID, err)
	}
	return sent.ID, nil
}

// Update re-renders the payload into the existing message.
func (c *ChannelSink) Update(ctx context.Context, handle string, p notification.Payload) error {
	msg, err := c.discord.renderer.Render(p)
	if err != nil {
		return fmt.Errorf("rendering update: %w", err)
	}
	if err := c.discord.limiter.Wait(ctx); err != nil {
		return err
	}

	edit := discordgo.NewMessageEdit(c.channelID, handle).SetEmbeds([]*discordgo.MessageEmbed{toEmbed(msg)})
	if msg.Text != "" {
		edit.SetContent(msg.Text)
	}
	if _, err := c.discord.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return channelError(handle, err)
	}
	return nil
}

// Retire deletes the message.
func (c *ChannelSink) Retire(ctx context.Context, handle string) error {
	if err := c.discord.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.discord.api.ChannelMessageDelete(c.channelID, handle, discordgo.WithContext(ctx)); err != nil {
		return channelError(handle, err)
	}
	return nil
}

func toEmbed(msg *notification.Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       msg.Color,
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if msg.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: msg.Footer}
	}
	return embed
}

func toMessageSend(msg *notification.Message) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: msg.Text}
	if msg.Title != "" || msg.Description != "" || len(msg.Fields) > 0 {
		send.Embeds = []*discordgo.MessageEmbed{toEmbed(msg)}
	}
	return send
}

func restCode(err error) (code, status int, ok bool) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return 0, 0, false
	}
	if restErr.Message != nil {
		code = restErr.Message.Code
	}
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	return code, status, true
}

// channelError maps a missing message onto common.ErrSinkNotFound.
func channelError(handle string, err error) error {
	code, status, ok := restCode(err)
	if ok && (code == discordgo.ErrCodeUnknownMessage || status == http.StatusNotFound) {
		return fmt.Errorf("message %s: %w", handle, common.ErrSinkNotFound)
	}
	return fmt.Errorf("message %s: %w", handle, err)
}

// createError maps a channel the bot can never post to onto a permanent
// delivery failure.
func createError(channelID string, err error) error {
	code, _, ok := restCode(err)
	if ok {
		switch code {
		case discordgo.ErrCodeMissingAccess:
			return common.NewSinkDeliveryFailedError(channelID, "missing access to channel")
		case discordgo.ErrCodeMissingPermissions:
			return common.NewSinkDeliveryFailedError(channelID, "missing permissions in channel")
		case discordgo.ErrCodeUnknownChannel:
			return common.NewSinkDeliveryFailedError(channelID, "unknown channel")
		}
	}
	return fmt.Errorf("posting to channel %s: %w", channelID, err)
}

// directError maps unreachable users onto a permanent delivery failure.
func directError(userID string, err error) error {
	code, _, ok := restCode(err)
	if ok {
		switch code {
		case discordgo.ErrCodeCannotSendMessagesToThisUser:
			return common.NewSinkDeliveryFailedError(userID, "user does not accept direct messages")
		case discordgo.ErrCodeUnknownUser:
			return common.NewSinkDeliveryFailedError(userID, "unknown user")
		}
	}
	return fmt.Errorf("direct message to %s: %w", userID, err)
}
