package dashboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// notifyChannels are the Postgres NOTIFY channels the execution and
// portfolio stores publish on. Payloads are raw JSON; EventListener
// passes them through unmodified as the Message's Data field.
var notifyChannels = []string{
	"trade_executed",
	"position_opened",
	"position_closed",
	"circuit_breaker_tripped",
}

// EventListener bridges Postgres LISTEN/NOTIFY to the Broadcaster,
// reconnecting with backoff if the listener connection drops.
type EventListener struct {
	dbURL       string
	log         zerolog.Logger
	broadcaster *Broadcaster
	done        chan struct{}
}

// NewEventListener creates an EventListener for dbURL.
func NewEventListener(dbURL string, broadcaster *Broadcaster, log zerolog.Logger) *EventListener {
	return &EventListener{
		dbURL:       dbURL,
		log:         log.With().Str("component", "dashboard_events").Logger(),
		broadcaster: broadcaster,
		done:        make(chan struct{}),
	}
}

// Start begins listening in a background goroutine.
func (el *EventListener) Start(ctx context.Context) {
	go el.listenLoop(ctx)
}

func (el *EventListener) listenLoop(ctx context.Context) {
	defer el.log.Info().Msg("event listener stopped")

	const minRetry = 100 * time.Millisecond
	const maxRetry = 10 * time.Second
	retry := minRetry

	for {
		select {
		case <-ctx.Done():
			return
		case <-el.done:
			return
		default:
		}

		listener := pq.NewListener(el.dbURL, minRetry, maxRetry, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				el.log.Warn().Err(err).Msg("listener connection event")
			}
		})

		ok := true
		for _, ch := range notifyChannels {
			if err := listener.Listen(ch); err != nil {
				el.log.Error().Err(err).Str("channel", ch).Msg("subscribe failed")
				ok = false
				break
			}
		}

		if !ok {
			listener.Close()
			retry = maxRetry
			select {
			case <-ctx.Done():
				return
			case <-time.After(retry):
			}
			continue
		}

		retry = minRetry
		el.drain(ctx, listener)
		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-el.done:
			return
		case <-time.After(retry):
		}
	}
}

func (el *EventListener) drain(ctx context.Context, listener *pq.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-el.done:
			return
		case n := <-listener.Notify:
			if n == nil {
				return
			}
			el.broadcaster.Broadcast(Message{
				Type: n.Channel,
				Data: json.RawMessage([]byte(n.Extra)),
			})
		}
	}
}

// Stop ends the listen loop.
func (el *EventListener) Stop() {
	close(el.done)
}
