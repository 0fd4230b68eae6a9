package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/xqlabs/basex-go/pkg/client"
)

// subscriberBuffer bounds per-subscriber queues; slow consumers drop
// events instead of blocking the upstream dispatch.
const subscriberBuffer = 16

// eventHub fans database events out to SSE subscribers. All watches share
// one dedicated session, dialed on the first subscription; pooled sessions
// cannot carry watches because they change hands between requests.
type eventHub struct {
	opts client.Options

	mu      sync.Mutex
	session *client.Session
	subs    map[string]map[chan string]struct{}
	closed  bool
}

func newEventHub(opts client.Options) *eventHub {
	return &eventHub{
		opts: opts,
		subs: make(map[string]map[chan string]struct{}),
	}
}

// subscribe registers a channel for events of the named database, starting
// an upstream watch for the first subscriber of a name.
func (h *eventHub) subscribe(ctx context.Context, name string) (chan string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("gateway: event hub closed")
	}

	if h.session == nil || h.session.Closed() {
		session, err := client.Dial(ctx, h.opts)
		if err != nil {
			return nil, err
		}
		h.session = session
	}

	first := len(h.subs[name]) == 0
	if first {
		err := h.session.Watch(ctx, name, func(data string) {
			h.broadcast(name, data)
		})
		if err != nil {
			return nil, err
		}
	}

	ch := make(chan string, subscriberBuffer)
	if h.subs[name] == nil {
		h.subs[name] = make(map[chan string]struct{})
	}
	h.subs[name][ch] = struct{}{}
	return ch, nil
}

// unsubscribe removes a channel, dropping the upstream watch when the last
// subscriber of a name leaves.
func (h *eventHub) unsubscribe(name string, ch chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[name][ch]; !ok {
		return
	}
	delete(h.subs[name], ch)

	if len(h.subs[name]) == 0 {
		delete(h.subs, name)
		if h.session != nil && !h.session.Closed() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := h.session.Unwatch(ctx, name); err != nil {
				log.Warn().Err(err).Str("name", name).Msg("failed to unwatch database")
			}
			cancel()
		}
	}
}

func (h *eventHub) broadcast(name, data string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[name] {
		select {
		case ch <- data:
		default:
			// Queue full: subscriber is too slow, drop the event.
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.subs = make(map[string]map[chan string]struct{})
	if h.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		h.session.Close(ctx)
		cancel()
		h.session = nil
	}
}

// handleEvents streams watch notifications for a database as Server-Sent
// Events.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	ch, err := s.hub.subscribe(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.hub.unsubscribe(name, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: subscribed\ndata: %s\n\n", name)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
