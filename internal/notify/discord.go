// Package notify posts moderation alerts to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/airlock-project/airlock/internal/config"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/version"
)

// ErrDisabled is returned by NewDiscord when no webhook is configured.
var ErrDisabled = errors.New("discord notifications disabled")

const (
	colorRed    = 0xFF0000
	colorOrange = 0xFFAA00
	colorBlue   = 0x3498DB
)

// Embed is a Discord message embed.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      EmbedFooter  `json:"footer"`
}

// EmbedField is one name/value row of an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter is the small text under an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

type webhookPayload struct {
	Embeds []Embed `json:"embeds"`
}

// Discord sends alerts for cheat reports, kicks and compatibility changes.
type Discord struct {
	url             string
	serverName      string
	disconnectsOnly bool
	client          *http.Client
	limiter         *rate.Limiter
	logger          zerolog.Logger
}

// NewDiscord creates a notifier for cfg.
func NewDiscord(cfg config.NotifyConfig, serverName string, logger zerolog.Logger) (*Discord, error) {
	if cfg.DiscordWebhookURL == "" {
		return nil, ErrDisabled
	}
	perMinute := cfg.PerMinute
	if perMinute < 1 {
		perMinute = 1
	}
	return &Discord{
		url:             cfg.DiscordWebhookURL,
		serverName:      serverName,
		disconnectsOnly: cfg.DisconnectsOnly,
		client:          &http.Client{Timeout: 10 * time.Second},
		limiter:         rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:          logger,
	}, nil
}

// SubscribeEvents registers the notifier's bus handlers.
func (d *Discord) SubscribeEvents(bus *events.EventBus) {
	bus.Subscribe(events.EventCheatReported, "notify.cheat", d.onCheatReported)
	bus.Subscribe(events.EventClientKicked, "notify.kick", d.onClientKicked)
	bus.Subscribe(events.EventCompatChanged, "notify.compat", d.onCompatChanged)
}

func (d *Discord) onCheatReported(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.CheatReportPayload)
	if !ok || (d.disconnectsOnly && !p.Disconnected) {
		return nil
	}
	color := colorOrange
	title := "Cheat report"
	if p.Disconnected {
		color = colorRed
		title = "Cheater disconnected"
	}
	fields := []EmbedField{
		{Name: "Player", Value: fmt.Sprintf("%s (#%d)", p.Name, p.ClientID), Inline: true},
		{Name: "Call", Value: p.Call, Inline: true},
		{Name: "Reports", Value: fmt.Sprint(p.Count), Inline: true},
	}
	if p.FriendCode != "" {
		fields = append(fields, EmbedField{Name: "Friend code", Value: p.FriendCode, Inline: true})
	}
	if p.GameCode != "" {
		fields = append(fields, EmbedField{Name: "Game", Value: p.GameCode, Inline: true})
	}
	return d.Send(ctx, Embed{Title: title, Description: p.Reason, Color: color, Fields: fields})
}

func (d *Discord) onClientKicked(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.KickPayload)
	if !ok {
		return nil
	}
	return d.Send(ctx, Embed{
		Title:       "Client kicked",
		Description: p.Reason,
		Color:       colorOrange,
		Fields: []EmbedField{
			{Name: "Client", Value: fmt.Sprintf("#%d", p.ClientID), Inline: true},
			{Name: "By", Value: p.By, Inline: true},
		},
	})
}

func (d *Discord) onCompatChanged(ctx context.Context, e events.Event) error {
	p, ok := e.Payload.(events.CompatChangedPayload)
	if !ok {
		return nil
	}
	return d.Send(ctx, Embed{
		Title:       "Compatibility table changed",
		Description: fmt.Sprintf("%s %s", p.Action, p.Version),
		Color:       colorBlue,
	})
}

// Send posts one embed. Embeds over the rate limit are dropped.
func (d *Discord) Send(ctx context.Context, embed Embed) error {
	if !d.limiter.Allow() {
		d.logger.Debug().Str("title", embed.Title).Msg("discord rate limit reached, alert dropped")
		return nil
	}
	if embed.Timestamp == "" {
		embed.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	embed.Footer = EmbedFooter{Text: fmt.Sprintf("%s · Airlock %s", d.serverName, version.AppVersion)}

	body, err := json.Marshal(webhookPayload{Embeds: []Embed{embed}})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
	}
	d.logger.Debug().Str("title", embed.Title).Msg("discord alert sent")
	return nil
}
