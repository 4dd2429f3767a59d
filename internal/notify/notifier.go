// Package notify delivers lifecycle notifications to operator channels
// (Telegram, Discord, signed webhooks). Delivery is fire-and-forget: callers
// are never blocked and failures are only logged.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// Event types that can be enabled in notify.events.
const (
	EventPromoted = "pool_promoted"
	EventOutbid   = "bid_outbid"
)

const defaultTimeout = 10 * time.Second

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier implements domain.Notifier over a set of Senders. Only event
// types in the allow list are sent; an empty list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders: senders,
		events:  allowed,
		timeout: defaultTimeout,
		logger:  logger.With(slog.String("component", "notifier")),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Notifier) OnPromoted(ctx context.Context, target domain.Target, pool domain.Pool) {
	name := target.DisplayName
	if name == "" {
		name = target.ID
	}
	msg := Message{
		Event: EventPromoted,
		Title: "Now featured: " + name,
		Body:  fmt.Sprintf("%s won its round with %d pooled.", name, pool.TotalPooled),
		Fields: []Field{
			{Name: "Target", Value: target.ID},
			{Name: "Pool", Value: pool.ID},
			{Name: "Pooled", Value: strconv.FormatInt(pool.TotalPooled, 10)},
		},
	}
	if pool.FeatureEndsAt != nil {
		msg.Fields = append(msg.Fields, Field{Name: "Featured until", Value: pool.FeatureEndsAt.UTC().Format(time.RFC3339)})
	}
	if pool.TopContributor != "" {
		msg.Fields = append(msg.Fields, Field{Name: "Top contributor", Value: pool.TopContributor})
	}
	n.fire(ctx, msg)
}

func (n *Notifier) OnOutbid(ctx context.Context, contributor string, bid domain.Bid) {
	n.fire(ctx, Message{
		Event: EventOutbid,
		Title: "Outbid",
		Body:  fmt.Sprintf("%s's pool lost its round; %d will be refunded.", contributor, bid.Amount),
		Fields: []Field{
			{Name: "Contributor", Value: contributor},
			{Name: "Pool", Value: bid.PoolID},
			{Name: "Refund", Value: strconv.FormatInt(bid.Amount, 10)},
		},
	})
}

// Wait blocks until in-flight deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) fire(ctx context.Context, msg Message) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", msg.Event))
		return
	}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.dispatch(sendCtx, msg); err != nil {
			n.logger.WarnContext(sendCtx, "notification delivery incomplete",
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", msg.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var _ domain.Notifier = (*Notifier)(nil)
