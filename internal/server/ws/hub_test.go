package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/spotlight/internal/cache/local"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

func TestHub_ForwardsBusEvents(t *testing.T) {
	bus := local.NewBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "api"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status struct {
		Channel string `json:"channel"`
		Event   struct {
			Type string `json:"type"`
		} `json:"event"`
	}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Channel != "status" || status.Event.Type != "hub.status" {
		t.Fatalf("unexpected first frame: %+v", status)
	}

	event := `{"type":"bid.placed","data":{"pool_id":"p1"},"at":"2026-01-01T00:00:00Z"}`
	if err := bus.Publish(ctx, domain.ChannelBids, []byte(event)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var got envelope
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Channel != domain.ChannelBids {
		t.Fatalf("expected channel %s, got %s", domain.ChannelBids, got.Channel)
	}
	var ev domain.Event
	if err := json.Unmarshal(got.Event, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != "bid.placed" {
		t.Fatalf("expected bid.placed, got %s", ev.Type)
	}
}

func TestClient_Subscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelBids: true}}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"slots"}})
	if !c.isSubscribed(domain.ChannelSlots) {
		t.Fatalf("short channel name should be qualified")
	}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelBids}})
	if c.isSubscribed(domain.ChannelBids) {
		t.Fatalf("expected bids unsubscribed")
	}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"*"}})
	if !c.isSubscribed(domain.ChannelPools) {
		t.Fatalf("wildcard should match every spotlight channel")
	}
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin([]string{"https://app.example"})
	for origin, want := range map[string]bool{
		"":                     true,
		"https://app.example":  true,
		"https://evil.example": false,
	} {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := check(r); got != want {
			t.Fatalf("origin %q: got %v, want %v", origin, got, want)
		}
	}
}
