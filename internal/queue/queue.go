// Package queue implements the ordered per-guild track queue.
//
// The track that is playing is not part of the queue: [Queue.DequeueHead]
// pops it atomically so two callers can never start the same entry. Loop
// modes decide whether a dequeued or finished track is put back.
//
// In [ModeTrack] the playing track stays pinned at the head so it replays.
// The pinned copy is hidden: indices, listings and counts only cover the
// tracks waiting behind it.
//
// All methods are safe for concurrent use.
package queue

import (
	"cmp"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"
)

// ErrIndexOutOfRange is wrapped by every [IndexError].
var ErrIndexOutOfRange = errors.New("queue: index out of range")

// IndexError reports an index-based operation outside the queue bounds.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("queue: index %d out of range [0,%d)", e.Index, e.Len)
}

func (e *IndexError) Unwrap() error { return ErrIndexOutOfRange }

// Position selects where [Queue.Enqueue] inserts a track.
type Position int

const (
	// End appends the track.
	End Position = iota
	// Front makes the track the next one to play.
	Front
)

// Track is an immutable descriptor of one playable item.
type Track struct {
	// ID is assigned at enqueue time and is unique per queue entry.
	ID string

	// Source is the opaque locator handed to the frame source opener.
	Source string

	Title  string
	Artist string

	// Duration is zero when unknown or for live streams.
	Duration time.Duration

	// Live marks an unbounded stream.
	Live bool

	// Direct marks a media URL the decoder can read without an extractor.
	Direct bool

	RequesterID   string
	RequesterName string

	AddedAt time.Time
}

// DefaultHistorySize is the number of finished tracks kept by [Queue.History].
const DefaultHistorySize = 50

// Option configures a [Queue].
type Option func(*Queue)

// WithHistorySize sets how many finished tracks are remembered.
func WithHistorySize(n int) Option {
	return func(q *Queue) { q.historySize = max(n, 0) }
}

// WithShuffle replaces the shuffle function. Tests use it for determinism.
func WithShuffle(fn func(n int, swap func(i, j int))) Option {
	return func(q *Queue) { q.shuffle = fn }
}

// WithLoopMode sets the initial loop mode.
func WithLoopMode(m Mode) Option {
	return func(q *Queue) { q.mode = m }
}

// Queue is an ordered sequence of tracks owned by one playback session.
type Queue struct {
	mu          sync.Mutex
	tracks      []Track
	pinned      bool // tracks[0] is the looping copy of the playing track
	version     uint64
	mode        Mode
	history     []Track
	historySize int
	shuffle     func(n int, swap func(i, j int))
	now         func() time.Time
}

// New returns an empty queue with loop mode off.
func New(opts ...Option) *Queue {
	q := &Queue{
		historySize: DefaultHistorySize,
		shuffle:     rand.Shuffle,
		now:         time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue inserts t at pos. An empty ID or AddedAt is filled in. The stored
// track is returned together with its index.
func (q *Queue) Enqueue(t Track, pos Position) (Track, int) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.AddedAt.IsZero() {
		t.AddedAt = q.now()
	}
	q.version++
	if pos == Front {
		q.tracks = slices.Insert(q.tracks, q.off(), t)
		return t, 0
	}
	q.tracks = append(q.tracks, t)
	return t, len(q.tracks) - 1 - q.off()
}

// DequeueHead pops the head. In [ModeTrack] the head stays pinned instead,
// so repeated calls replay it.
func (q *Queue) DequeueHead() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return Track{}, false
	}
	head := q.tracks[0]
	if q.mode == ModeTrack {
		if !q.pinned {
			q.pinned = true
			q.version++
		}
		return head, true
	}
	q.version++
	q.tracks[0] = Track{}
	q.tracks = q.tracks[1:]
	return head, true
}

// Pin makes t the looping head. It is used when [ModeTrack] is switched on
// while t is already playing.
func (q *Queue) Pin(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.version++
	if q.pinned {
		q.tracks[0] = t
		return
	}
	q.tracks = slices.Insert(q.tracks, 0, t)
	q.pinned = true
}

// off is the index of the first visible track. Callers hold q.mu.
func (q *Queue) off() int {
	if q.pinned {
		return 1
	}
	return 0
}

// visible returns the tracks behind the pinned head. Callers hold q.mu.
func (q *Queue) visible() []Track {
	return q.tracks[q.off():]
}

// Finished records that t played to its end (or was skipped). In
// [ModeQueue] it is re-appended at the tail exactly once.
func (q *Queue) Finished(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remember(t)
	if q.mode == ModeQueue {
		q.tracks = append(q.tracks, t)
		q.version++
	}
}

// Discarded records t in the history without re-appending it. Used for
// tracks that failed to play.
func (q *Queue) Discarded(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remember(t)
}

func (q *Queue) remember(t Track) {
	if q.historySize == 0 {
		return
	}
	q.history = append(q.history, t)
	if over := len(q.history) - q.historySize; over > 0 {
		q.history = slices.Delete(q.history, 0, over)
	}
}

// DropHead removes the head if it is the entry id. Skipping a track that
// loops in [ModeTrack] has to drop its pinned copy.
func (q *Queue) DropHead(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 || q.tracks[0].ID != id {
		return false
	}
	q.tracks = slices.Delete(q.tracks, 0, 1)
	q.pinned = false
	q.version++
	return true
}

// Remove deletes and returns the entry at index i.
func (q *Queue) Remove(i int) (Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.visible())
	if i < 0 || i >= n {
		return Track{}, &IndexError{Index: i, Len: n}
	}
	i += q.off()
	t := q.tracks[i]
	q.tracks = slices.Delete(q.tracks, i, i+1)
	q.version++
	return t, nil
}

// Move relocates the entry at from so that it ends up at index to.
func (q *Queue) Move(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.visible())
	if from < 0 || from >= n {
		return &IndexError{Index: from, Len: n}
	}
	if to < 0 || to >= n {
		return &IndexError{Index: to, Len: n}
	}
	if from == to {
		return nil
	}
	from, to = from+q.off(), to+q.off()
	t := q.tracks[from]
	q.tracks = slices.Delete(q.tracks, from, from+1)
	q.tracks = slices.Insert(q.tracks, to, t)
	q.version++
	return nil
}

// ShuffleRemaining randomises the order of all queued tracks and returns
// how many were shuffled. Fewer than two tracks is a no-op returning 0.
func (q *Queue) ShuffleRemaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	rest := q.visible()
	if len(rest) < 2 {
		return 0
	}
	q.shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
	q.version++
	return len(rest)
}

// Clear removes every queued track and returns how many were removed. A
// pinned head stays; [Queue.DropHead] removes it.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.visible())
	clear(q.tracks[q.off():])
	q.tracks = q.tracks[:q.off()]
	q.version++
	return n
}

// SetLoopMode changes the loop mode. Leaving [ModeTrack] drops the pinned
// head, so the playing track is not replayed.
func (q *Queue) SetLoopMode(m Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("queue: %w: %d", ErrInvalidMode, int(m))
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pinned && m != ModeTrack {
		q.tracks = slices.Delete(q.tracks, 0, 1)
		q.pinned = false
		q.version++
	}
	q.mode = m
	return nil
}

// LoopMode returns the current loop mode.
func (q *Queue) LoopMode() Mode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mode
}

// Snapshot returns a copy of the queued tracks in play order.
func (q *Queue) Snapshot() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.visible())
}

// Version changes whenever the queued tracks change. Callers compare it to
// skip work for an unchanged queue.
func (q *Queue) Version() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.version
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.visible())
}

// TotalDuration sums the known durations of all queued tracks.
func (q *Queue) TotalDuration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	var total time.Duration
	for _, t := range q.visible() {
		total += t.Duration
	}
	return total
}

// Page returns the 1-based page of size entries and the number of pages.
// An out-of-range page returns an empty slice.
func (q *Queue) Page(page, size int) ([]Track, int) {
	if size <= 0 {
		size = 10
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	tracks := q.visible()
	pages := (len(tracks) + size - 1) / size
	start := (page - 1) * size
	if page < 1 || start >= len(tracks) {
		return nil, pages
	}
	end := min(start+size, len(tracks))
	return slices.Clone(tracks[start:end]), pages
}

// History returns up to n recently finished tracks, newest first.
func (q *Queue) History(n int) []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n > len(q.history) {
		n = len(q.history)
	}
	out := make([]Track, 0, n)
	for i := len(q.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, q.history[i])
	}
	return out
}

// findThreshold is the minimum Jaro–Winkler similarity for a fuzzy match.
const findThreshold = 0.85

// Find returns the indices of tracks whose title or artist match query,
// best match first. Substring matches always qualify; otherwise the
// Jaro–Winkler similarity must reach a threshold.
func (q *Queue) Find(query string) []int {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	type hit struct {
		idx   int
		score float64
	}
	var hits []hit
	for i, t := range q.visible() {
		best := 0.0
		for _, field := range []string{t.Title, t.Artist} {
			f := strings.ToLower(field)
			if f == "" {
				continue
			}
			if strings.Contains(f, query) {
				best = max(best, 1)
				continue
			}
			best = max(best, matchr.JaroWinkler(query, f, false))
		}
		if best >= findThreshold {
			hits = append(hits, hit{idx: i, score: best})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(b.score, a.score) })
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = h.idx
	}
	return out
}
