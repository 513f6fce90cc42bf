package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func track(title string) Track {
	return Track{Source: "src://" + title, Title: title}
}

func titles(ts []Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

func fill(q *Queue, names ...string) {
	for _, n := range names {
		q.Enqueue(track(n), End)
	}
}

func TestEnqueue_AssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q := New()
	q.now = func() time.Time { return fixed }

	got, idx := q.Enqueue(track("a"), End)
	if got.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if !got.AddedAt.Equal(fixed) {
		t.Errorf("AddedAt = %v, want %v", got.AddedAt, fixed)
	}
	if idx != 0 {
		t.Errorf("index = %d, want 0", idx)
	}

	other, _ := q.Enqueue(track("a"), End)
	if other.ID == got.ID {
		t.Error("two entries of the same track must have distinct IDs")
	}
}

func TestEnqueue_Front(t *testing.T) {
	t.Parallel()

	q := New()
	fill(q, "a", "b")
	if _, idx := q.Enqueue(track("c"), Front); idx != 0 {
		t.Errorf("index = %d, want 0", idx)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, titles(q.Snapshot())); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestDequeueHead_FIFO(t *testing.T) {
	t.Parallel()

	q := New()
	fill(q, "a", "b", "c")
	var got []string
	for {
		tr, ok := q.DequeueHead()
		if !ok {
			break
		}
		got = append(got, tr.Title)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("dequeue order mismatch (-want +got):\n%s", diff)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestDequeueHead_ConcurrentNoLossNoDuplicate(t *testing.T) {
	t.Parallel()

	const producers, perProducer = 8, 200
	q := New()

	var wg sync.WaitGroup
	for p := range producers {
		wg.Go(func() {
			for i := range perProducer {
				q.Enqueue(track(fmt.Sprintf("%d-%d", p, i)), End)
			}
		})
	}

	seen := make(map[string]int)
	var mu sync.Mutex
	done := make(chan struct{})
	var consumers sync.WaitGroup
	for range 4 {
		consumers.Go(func() {
			for {
				tr, ok := q.DequeueHead()
				if !ok {
					select {
					case <-done:
						if q.Len() == 0 {
							return
						}
					default:
					}
					continue
				}
				mu.Lock()
				seen[tr.ID]++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	close(done)
	consumers.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("dequeued %d distinct tracks, want %d", len(seen), producers*perProducer)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("track %s dequeued %d times", id, n)
		}
	}
}

func TestDequeueHead_PreservesPerProducerOrder(t *testing.T) {
	t.Parallel()

	q := New()
	var wg sync.WaitGroup
	for p := range 4 {
		wg.Go(func() {
			for i := range 100 {
				q.Enqueue(Track{Title: fmt.Sprintf("%d", p), Source: fmt.Sprintf("%d", i)}, End)
			}
		})
	}
	wg.Wait()

	last := map[string]int{}
	for {
		tr, ok := q.DequeueHead()
		if !ok {
			break
		}
		var i int
		fmt.Sscanf(tr.Source, "%d", &i)
		if prev, ok := last[tr.Title]; ok && i <= prev {
			t.Fatalf("producer %s: got item %d after %d", tr.Title, i, prev)
		}
		last[tr.Title] = i
	}
}

func TestLoopTrack_ReplaysSameDescriptor(t *testing.T) {
	t.Parallel()

	q := New(WithLoopMode(ModeTrack))
	fill(q, "a", "b")
	first, _ := q.DequeueHead()
	for range 5 {
		got, ok := q.DequeueHead()
		if !ok {
			t.Fatal("queue unexpectedly empty")
		}
		if got != first {
			t.Fatalf("DequeueHead = %+v, want %+v", got, first)
		}
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1 (the pinned head is hidden)", q.Len())
	}

	if !q.DropHead(first.ID) {
		t.Fatal("DropHead returned false for the looped head")
	}
	if next, _ := q.DequeueHead(); next.Title != "b" {
		t.Errorf("after DropHead got %q, want b", next.Title)
	}
}

func TestLoopTrack_PinnedHeadHidden(t *testing.T) {
	t.Parallel()

	q := New(WithLoopMode(ModeTrack), WithShuffle(func(n int, swap func(i, j int)) {
		for i := range n / 2 {
			swap(i, n-1-i)
		}
	}))
	fill(q, "a", "b", "c", "d")
	a, _ := q.DequeueHead()

	if diff := cmp.Diff([]string{"b", "c", "d"}, titles(q.Snapshot())); diff != "" {
		t.Errorf("Snapshot (-want +got):\n%s", diff)
	}
	if page, _ := q.Page(1, 10); len(page) != 3 || page[0].Title != "b" {
		t.Errorf("Page = %v, want b first", titles(page))
	}
	if got := q.Find("a"); len(got) != 0 {
		t.Errorf("Find(a) = %v, want the playing track hidden", got)
	}

	got, err := q.Remove(0)
	if err != nil || got.Title != "b" {
		t.Fatalf("Remove(0) = %q, %v; want b", got.Title, err)
	}
	if err := q.Move(1, 0); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, idx := q.Enqueue(track("e"), Front); idx != 0 {
		t.Errorf("Enqueue(Front) index = %d, want 0", idx)
	}
	if n := q.ShuffleRemaining(); n != 3 {
		t.Errorf("ShuffleRemaining = %d, want 3", n)
	}
	if diff := cmp.Diff([]string{"c", "d", "e"}, titles(q.Snapshot())); diff != "" {
		t.Errorf("after edits (-want +got):\n%s", diff)
	}
	if again, _ := q.DequeueHead(); again.ID != a.ID {
		t.Errorf("DequeueHead = %q, want the pinned a to replay", again.Title)
	}

	if n := q.Clear(); n != 3 {
		t.Errorf("Clear = %d, want 3", n)
	}
	if again, _ := q.DequeueHead(); again.ID != a.ID {
		t.Error("Clear dropped the pinned head")
	}

	if err := q.SetLoopMode(ModeOff); err != nil {
		t.Fatalf("SetLoopMode: %v", err)
	}
	if _, ok := q.DequeueHead(); ok {
		t.Error("leaving track loop must drop the pinned head")
	}
}

func TestPin(t *testing.T) {
	t.Parallel()

	q := New()
	fill(q, "b")
	cur, _ := q.DequeueHead()
	fill(q, "c")
	if err := q.SetLoopMode(ModeTrack); err != nil {
		t.Fatalf("SetLoopMode: %v", err)
	}
	q.Pin(cur)
	if diff := cmp.Diff([]string{"c"}, titles(q.Snapshot())); diff != "" {
		t.Errorf("Snapshot (-want +got):\n%s", diff)
	}
	if got, _ := q.DequeueHead(); got.ID != cur.ID {
		t.Errorf("DequeueHead = %q, want pinned %q", got.Title, cur.Title)
	}
}

func TestLoopQueue_FinishedReappendsOnce(t *testing.T) {
	t.Parallel()

	q := New(WithLoopMode(ModeQueue))
	fill(q, "a", "b")
	a, _ := q.DequeueHead()
	if diff := cmp.Diff([]string{"b"}, titles(q.Snapshot())); diff != "" {
		t.Fatalf("dequeue must not re-append (-want +got):\n%s", diff)
	}
	q.Finished(a)
	if diff := cmp.Diff([]string{"b", "a"}, titles(q.Snapshot())); diff != "" {
		t.Errorf("after Finished (-want +got):\n%s", diff)
	}
	snap := q.Snapshot()
	if snap[1].ID != a.ID {
		t.Error("re-appended entry must be the same descriptor")
	}
}

func TestLoopOff_FinishedDoesNotReappend(t *testing.T) {
	t.Parallel()

	q := New()
	fill(q, "a")
	a, _ := q.DequeueHead()
	q.Finished(a)
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
	if h := q.History(0); len(h) != 1 || h[0].ID != a.ID {
		t.Errorf("History = %v, want [a]", titles(h))
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	q := New()
	fill(q, "a", "b", "c")
	got, err := q.Remove(1)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got.Title != "b" {
		t.Errorf("removed %q, want b", got.Title)
	}
	if diff := cmp.Diff([]string{"a", "c"}, titles(q.Snapshot())); diff != "" {
		t.Errorf("after Remove (-want +got):\n%s", diff)
	}
}

func TestIndexErrors(t *testing.T) {
	t.Parallel()

	q := New()
	fill(q, "a", "b")
	tests := []struct {
		name string
		op   func() error
		idx  int
	}{
		{"remove negative", func() error { _, err := q.Remove(-1); return err }, -1},
		{"remove past end", func() error { _, err := q.Remove(2); return err }, 2},
		{"move bad from", func() error { return q.Move(5, 0) }, 5},
		{"move bad to", func() error { return q.Move(0, 2) }, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op()
			if !errors.Is(err, ErrIndexOutOfRange) {
				t.Fatalf("want ErrIndexOutOfRange, got %v", err)
			}
			var ie *IndexError
			if !errors.As(err, &ie) {
				t.Fatalf("want *IndexError, got %T", err)
			}
			if ie.Index != tt.idx || ie.Len != 2 {
				t.Errorf("IndexError = %+v, want index %d len 2", ie, tt.idx)
			}
		})
	}
	if diff := cmp.Diff([]string{"a", "b"}, titles(q.Snapshot())); diff != "" {
		t.Errorf("failed operations must not modify the queue (-want +got):\n%s", diff)
	}
}

func TestMove(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to int
		want     []string
	}{
		{0, 2, []string{"b", "c", "a", "d"}},
		{3, 0, []string{"d", "a", "b", "c"}},
		{1, 1, []string{"a", "b", "c", "d"}},
		{2, 1, []string{"a", "c", "b", "d"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d->%d", tt.from, tt.to), func(t *testing.T) {
			q := New()
			fill(q, "a", "b", "c", "d")
			if err := q.Move(tt.from, tt.to); err != nil {
				t.Fatalf("Move: %v", err)
			}
			if diff := cmp.Diff(tt.want, titles(q.Snapshot())); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShuffleRemaining(t *testing.T) {
	t.Parallel()

	reverse := func(n int, swap func(i, j int)) {
		for i := range n / 2 {
			swap(i, n-1-i)
		}
	}
	q := New(WithShuffle(reverse))
	if n := q.ShuffleRemaining(); n != 0 {
		t.Errorf("shuffle of empty queue = %d, want 0", n)
	}
	fill(q, "a")
	if n := q.ShuffleRemaining(); n != 0 {
		t.Errorf("shuffle of single track = %d, want 0", n)
	}
	fill(q, "b", "c")
	if n := q.ShuffleRemaining(); n != 3 {
		t.Errorf("shuffled = %d, want 3", n)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, titles(q.Snapshot())); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestShuffleRemaining_KeepsAllTracks(t *testing.T) {
	t.Parallel()

	q := New()
	fill(q, "a", "b", "c", "d", "e", "f")
	q.ShuffleRemaining()
	got := map[string]bool{}
	for _, tr := range q.Snapshot() {
		got[tr.Title] = true
	}
	if len(got) != 6 {
		t.Errorf("after shuffle %d distinct tracks, want 6", len(got))
	}
}

func TestClearAndSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	q := New()
	fill(q, "a", "b")
	snap := q.Snapshot()
	snap[0].Title = "mutated"
	if q.Snapshot()[0].Title != "a" {
		t.Error("Snapshot must return a copy")
	}
	if n := q.Clear(); n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d", q.Len())
	}
}

func TestSetLoopMode_Invalid(t *testing.T) {
	t.Parallel()

	q := New()
	if err := q.SetLoopMode(Mode(42)); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("want ErrInvalidMode, got %v", err)
	}
	if q.LoopMode() != ModeOff {
		t.Errorf("mode changed on invalid input: %v", q.LoopMode())
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Mode{"off": ModeOff, "Track": ModeTrack, " queue ": ModeQueue, "all": ModeQueue} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("sometimes"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("ParseMode(bogus): want ErrInvalidMode, got %v", err)
	}
}

func TestPageAndTotalDuration(t *testing.T) {
	t.Parallel()

	q := New()
	for i := range 25 {
		q.Enqueue(Track{Title: fmt.Sprintf("t%02d", i), Duration: time.Minute}, End)
	}
	page, pages := q.Page(3, 10)
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	if diff := cmp.Diff([]string{"t20", "t21", "t22", "t23", "t24"}, titles(page)); diff != "" {
		t.Errorf("page 3 mismatch (-want +got):\n%s", diff)
	}
	if page, _ := q.Page(4, 10); len(page) != 0 {
		t.Errorf("page 4 should be empty, got %d", len(page))
	}
	if got := q.TotalDuration(); got != 25*time.Minute {
		t.Errorf("TotalDuration = %v, want 25m", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	q := New(WithHistorySize(2))
	for _, n := range []string{"a", "b", "c"} {
		q.Finished(track(n))
	}
	if diff := cmp.Diff([]string{"c", "b"}, titles(q.History(10))); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	q := New()
	q.Enqueue(Track{Title: "Bohemian Rhapsody", Artist: "Queen"}, End)
	q.Enqueue(Track{Title: "Yesterday", Artist: "The Beatles"}, End)
	q.Enqueue(Track{Title: "Killer Queen", Artist: "Queen"}, End)

	if diff := cmp.Diff([]int{0, 2}, q.Find("queen")); diff != "" {
		t.Errorf("Find(queen) mismatch (-want +got):\n%s", diff)
	}
	if got := q.Find("yesterdy"); len(got) != 1 || got[0] != 1 {
		t.Errorf("fuzzy Find(yesterdy) = %v, want [1]", got)
	}
	if got := q.Find("   "); got != nil {
		t.Errorf("Find(blank) = %v, want nil", got)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	q := New()
	v := q.Version()
	changed := func(op string) {
		t.Helper()
		if nv := q.Version(); nv == v {
			t.Errorf("%s did not change the version", op)
		} else {
			v = nv
		}
	}
	same := func(op string) {
		t.Helper()
		if nv := q.Version(); nv != v {
			t.Errorf("%s changed the version", op)
		}
	}

	fill(q, "a", "b", "c")
	changed("Enqueue")
	q.Snapshot()
	q.Page(1, 10)
	same("reads")
	if err := q.Move(0, 2); err != nil {
		t.Fatal(err)
	}
	changed("Move")
	if _, err := q.Remove(5); err == nil {
		t.Fatal("Remove(5) succeeded")
	}
	same("failed Remove")
	head, _ := q.DequeueHead()
	changed("DequeueHead")
	q.Finished(head)
	same("Finished with loop off")
	q.Clear()
	changed("Clear")
}
