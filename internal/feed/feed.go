// Package feed streams playback events to websocket subscribers.
//
// A [Hub] is a [playback.Notifier]: every event is encoded once as a JSON
// [Message] and fanned out to the subscribers of its guild. Subscribers
// connect with GET /events?guild=<id>; without the guild parameter they
// receive the events of every guild.
//
// Slow subscribers never hold up a session. Messages that do not fit into
// a subscriber's buffer are dropped.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hertz/internal/playback"
)

// Hub defaults.
const (
	defaultBuffer       = 32
	defaultWriteTimeout = 5 * time.Second
)

// Message is the JSON form of a [playback.Event].
type Message struct {
	GuildID   string    `json:"guild_id"`
	Event     string    `json:"event"`
	TrackID   string    `json:"track_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Source    string    `json:"source,omitempty"`
	Requester string    `json:"requester,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// NewMessage converts ev.
func NewMessage(ev playback.Event) Message {
	m := Message{
		GuildID:   ev.GuildID,
		Event:     ev.Kind.String(),
		TrackID:   ev.Track.ID,
		Title:     ev.Track.Title,
		Source:    ev.Track.Source,
		Requester: ev.Track.RequesterName,
		At:        ev.At,
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	return m
}

// Config configures a [Hub].
type Config struct {
	// OriginPatterns are the host patterns allowed to connect from a
	// browser in addition to the same origin.
	OriginPatterns []string

	// Buffer is the per-subscriber message queue length. Default: 32.
	Buffer int

	// WriteTimeout bounds each websocket write. Default: 5 seconds.
	WriteTimeout time.Duration
}

type subscriber struct {
	guildID string
	ch      chan []byte
}

// Hub fans playback events out to websocket subscribers. It is safe for
// concurrent use.
type Hub struct {
	origins      []string
	buffer       int
	writeTimeout time.Duration

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

var (
	_ playback.Notifier = (*Hub)(nil)
	_ http.Handler      = (*Hub)(nil)
)

// NewHub creates a Hub.
func NewHub(cfg Config) *Hub {
	h := &Hub{
		origins:      cfg.OriginPatterns,
		buffer:       cfg.Buffer,
		writeTimeout: cfg.WriteTimeout,
		subs:         make(map[*subscriber]struct{}),
		done:         make(chan struct{}),
	}
	if h.buffer <= 0 {
		h.buffer = defaultBuffer
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = defaultWriteTimeout
	}
	return h
}

// Notify implements [playback.Notifier]. It never blocks.
func (h *Hub) Notify(ev playback.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return
	}
	data, err := json.Marshal(NewMessage(ev))
	if err != nil {
		slog.Warn("feed: encode event", "guild_id", ev.GuildID, "err", err)
		return
	}
	for s := range h.subs {
		if s.guildID != "" && s.guildID != ev.GuildID {
			continue
		}
		select {
		case s.ch <- data:
		default:
			slog.Debug("feed: subscriber too slow, message dropped", "guild_id", ev.GuildID)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the client disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Debug("feed: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sub := &subscriber{guildID: r.URL.Query().Get("guild"), ch: make(chan []byte, h.buffer)}
	if !h.add(sub) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.remove(sub)

	slog.Debug("feed: subscriber connected", "guild_id", sub.guildID, "remote", r.RemoteAddr)

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-h.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case data := <-sub.ch:
			if err := h.write(ctx, conn, data); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("feed: write failed", "guild_id", sub.guildID, "err", err)
				}
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close disconnects every subscriber and rejects new ones. It is safe to
// call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}
