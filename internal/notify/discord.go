package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"
)

// Embed colors by event.
const (
	colorPromoted = 0xF1C40F
	colorOutbid   = 0xE67E22
	colorDefault  = 0x95A5A6
)

// Discord embed limits.
const (
	maxEmbedTitle  = 256
	maxEmbedFields = 25
	maxFieldValue  = 1024
)

// DiscordSender posts each message as a single embed to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(discordPayload{Username: "Spotlight", Embeds: []discordEmbed{embedFor(msg)}})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}
	if err := postJSON(ctx, d.client, d.webhookURL, body, nil); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func embedFor(msg Message) discordEmbed {
	e := discordEmbed{
		Title:       truncate(msg.Title, maxEmbedTitle),
		Description: msg.Body,
		Color:       colorDefault,
	}
	switch msg.Event {
	case EventPromoted:
		e.Color = colorPromoted
	case EventOutbid:
		e.Color = colorOutbid
	}
	if !msg.At.IsZero() {
		e.Timestamp = msg.At.UTC().Format(time.RFC3339)
	}
	for i, f := range msg.Fields {
		if i == maxEmbedFields {
			break
		}
		e.Fields = append(e.Fields, discordField{Name: f.Name, Value: truncate(f.Value, maxFieldValue), Inline: true})
	}
	return e
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func (d *DiscordSender) Name() string {
	return "discord"
}
