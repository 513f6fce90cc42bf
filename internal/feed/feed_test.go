package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
)

// startHub serves h on a test server and returns its websocket URL.
func startHub(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for h.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", h.Subscribers(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func TestHub_StreamsGuildEvents(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	url := startHub(t, h)
	conn := dial(t, url+"?guild=g1")
	waitSubscribers(t, h, 1)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	track := queue.Track{ID: "t1", Title: "Song", Source: "https://example.com/song.mp3", RequesterName: "alice"}
	h.Notify(playback.Event{GuildID: "g2", Kind: playback.EventTrackStarted, Track: track, At: at})
	h.Notify(playback.Event{GuildID: "g1", Kind: playback.EventTrackStarted, Track: track, At: at})

	want := Message{
		GuildID:   "g1",
		Event:     "started",
		TrackID:   "t1",
		Title:     "Song",
		Source:    "https://example.com/song.mp3",
		Requester: "alice",
		At:        at,
	}
	if diff := cmp.Diff(want, readMessage(t, conn)); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
}

func TestHub_AllGuilds(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	conn := dial(t, startHub(t, h))
	waitSubscribers(t, h, 1)

	h.Notify(playback.Event{GuildID: "g2", Kind: playback.EventFaulted, Err: errors.New("voice lost")})
	m := readMessage(t, conn)
	if m.GuildID != "g2" || m.Event != "faulted" || m.Error != "voice lost" {
		t.Errorf("message = %+v, want faulted g2 with error", m)
	}
}

func TestHub_UnsubscribesOnDisconnect(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	conn := dial(t, startHub(t, h))
	waitSubscribers(t, h, 1)

	conn.Close(websocket.StatusNormalClosure, "bye")
	waitSubscribers(t, h, 0)
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{})
	url := startHub(t, h)
	conn := dial(t, url)
	waitSubscribers(t, h, 1)

	h.Close()
	h.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Errorf("close status = %v (err %v), want going away", got, err)
	}
	waitSubscribers(t, h, 0)
}

func TestHub_NotifyWithoutSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub(Config{Buffer: 1})
	h.Notify(playback.Event{GuildID: "g1", Kind: playback.EventIdle})

	// A full buffer drops instead of blocking.
	s := &subscriber{ch: make(chan []byte, 1)}
	h.add(s)
	h.Notify(playback.Event{GuildID: "g1", Kind: playback.EventIdle})
	h.Notify(playback.Event{GuildID: "g1", Kind: playback.EventIdle})
	if len(s.ch) != 1 {
		t.Errorf("buffered %d messages, want 1", len(s.ch))
	}
}
