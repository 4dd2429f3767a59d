package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/spotlight/internal/crypto"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

type recordingSender struct {
	mu       sync.Mutex
	name     string
	messages []Message
	err      error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FansOutAndFilters(t *testing.T) {
	t.Parallel()

	ok := &recordingSender{name: "ok"}
	broken := &recordingSender{name: "broken", err: errors.New("down")}
	n := NewNotifier([]Sender{broken, ok}, []string{EventPromoted}, discardLogger())

	ends := time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	n.OnPromoted(ctx, domain.Target{ID: "t1", DisplayName: "Cool Post"}, domain.Pool{ID: "p1", TotalPooled: 150, FeatureEndsAt: &ends})
	n.OnOutbid(ctx, "alice", domain.Bid{PoolID: "p2", Amount: 20})
	cancel()
	n.Wait()

	if ok.count() != 1 {
		t.Fatalf("expected one delivery despite failing sender and filter, got %d", ok.count())
	}
	msg := ok.messages[0]
	if msg.Event != EventPromoted || !strings.Contains(msg.Title, "Cool Post") || !strings.Contains(msg.Body, "150") {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.At.IsZero() {
		t.Fatalf("expected fire to stamp the message time")
	}
	if broken.count() != 1 {
		t.Fatalf("expected failing sender to be attempted once, got %d", broken.count())
	}
}

func TestWebhookSender_SignsBody(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotTS, gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotTS = r.Header.Get(crypto.HeaderTimestamp)
		gotSig = r.Header.Get(crypto.HeaderSignature)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "secret")
	msg := Message{Event: EventOutbid, Title: "title", Body: "body", Fields: []Field{{Name: "Pool", Value: "p1"}}}
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Event != EventOutbid || payload.Title != "title" || payload.Message != "body" || payload.Fields["Pool"] != "p1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !crypto.NewWebhookSigner("secret").Verify(gotBody, gotTS, gotSig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestTelegramSender_ReportsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewTelegramSender("token", "chat", srv.URL).Send(context.Background(), Message{Title: "t", Body: "m"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestDiscordSender_PostsEventEmbed(t *testing.T) {
	t.Parallel()

	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ends := time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC)
	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, nil, discardLogger())
	n.OnPromoted(context.Background(),
		domain.Target{ID: "t1", DisplayName: "Cool Post"},
		domain.Pool{ID: "p1", TotalPooled: 150, FeatureEndsAt: &ends, TopContributor: "alice"})
	n.Wait()

	if len(got.Embeds) != 1 {
		t.Fatalf("expected one embed, got %+v", got)
	}
	e := got.Embeds[0]
	if e.Color != colorPromoted || e.Title != "Now featured: Cool Post" || e.Timestamp == "" {
		t.Fatalf("unexpected embed %+v", e)
	}
	fields := map[string]string{}
	for _, f := range e.Fields {
		fields[f.Name] = f.Value
	}
	if fields["Pooled"] != "150" || fields["Featured until"] != "2025-01-01T13:00:00Z" || fields["Top contributor"] != "alice" {
		t.Fatalf("unexpected fields %+v", e.Fields)
	}
}

func TestEmbedFor_OutbidAndLimits(t *testing.T) {
	t.Parallel()

	msg := Message{Event: EventOutbid, Title: strings.Repeat("x", 300)}
	for i := 0; i < 30; i++ {
		msg.Fields = append(msg.Fields, Field{Name: "f", Value: strings.Repeat("v", 2000)})
	}
	e := embedFor(msg)
	if e.Color != colorOutbid {
		t.Fatalf("expected outbid color, got %#x", e.Color)
	}
	if n := len([]rune(e.Title)); n != maxEmbedTitle {
		t.Fatalf("title runes = %d, want %d", n, maxEmbedTitle)
	}
	if len(e.Fields) != maxEmbedFields || len([]rune(e.Fields[0].Value)) != maxFieldValue {
		t.Fatalf("fields not clamped: %d fields, first %d runes", len(e.Fields), len([]rune(e.Fields[0].Value)))
	}
	if embedFor(Message{Event: "other"}).Color != colorDefault {
		t.Fatalf("expected default color for unknown event")
	}
}
