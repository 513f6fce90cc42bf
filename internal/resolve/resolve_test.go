package resolve

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/kkdai/youtube/v2"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/internal/resilience"
	"github.com/MrWong99/hertz/pkg/audio"
	"github.com/MrWong99/hertz/pkg/audio/stream"
)

// fakeVideos is a scripted [VideoClient].
type fakeVideos struct {
	mu    sync.Mutex
	video *youtube.Video
	err   error
	calls []string
}

func (f *fakeVideos) GetVideoContext(_ context.Context, url string) (*youtube.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	return f.video, f.err
}

func (f *fakeVideos) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeRunner records yt-dlp invocations and replies with a fixed output.
type fakeRunner struct {
	mu   sync.Mutex
	out  string
	err  error
	args [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, append([]string{name}, args...))
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.out), nil
}

func (f *fakeRunner) Targets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.args {
		out = append(out, a[len(a)-1])
	}
	return out
}

func newTestResolver(t *testing.T, videos *fakeVideos, runner *fakeRunner) *Resolver {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return New(Config{
		Timeout: time.Second,
		Metrics: m,
		Breaker: resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	}, WithVideoClient(videos), WithRunner(runner.Run))
}

var ignoreID = cmpopts.IgnoreFields(queue.Track{}, "ID", "AddedAt")

const songJSON = `{
  "_type": "video",
  "id": "dQw4w9WgXcQ",
  "title": "Never Gonna Give You Up",
  "uploader": "Rick Astley",
  "duration": 213.0,
  "webpage_url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
}`

func TestResolve_YouTubeLink(t *testing.T) {
	t.Parallel()

	videos := &fakeVideos{video: &youtube.Video{
		ID:       "dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up",
		Author:   "Rick Astley",
		Duration: 213 * time.Second,
	}}
	runner := &fakeRunner{}
	r := newTestResolver(t, videos, runner)

	got, err := r.Resolve(t.Context(), "<https://youtu.be/dQw4w9WgXcQ>")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := queue.Track{
		Source:   "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up",
		Artist:   "Rick Astley",
		Duration: 213 * time.Second,
	}
	if diff := cmp.Diff(want, got, ignoreID); diff != "" {
		t.Errorf("track mismatch (-want +got):\n%s", diff)
	}
	if len(runner.Targets()) != 0 {
		t.Errorf("yt-dlp ran %v, want the youtube client only", runner.Targets())
	}
}

func TestResolve_YouTubeLive(t *testing.T) {
	t.Parallel()

	videos := &fakeVideos{video: &youtube.Video{
		ID:             "live1234567",
		Title:          "lofi radio",
		HLSManifestURL: "https://example.com/live.m3u8",
	}}
	r := newTestResolver(t, videos, &fakeRunner{})

	got, err := r.Resolve(t.Context(), "https://www.youtube.com/watch?v=live1234567")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !got.Live || got.Duration != 0 {
		t.Errorf("got Live=%v Duration=%s, want a live track without duration", got.Live, got.Duration)
	}
}

func TestResolve_YouTubeFallsBackToYTDLP(t *testing.T) {
	t.Parallel()

	videos := &fakeVideos{err: errors.New("cipher not found")}
	runner := &fakeRunner{out: songJSON}
	r := newTestResolver(t, videos, runner)

	got, err := r.Resolve(t.Context(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Title != "Never Gonna Give You Up" || got.Artist != "Rick Astley" {
		t.Errorf("got %+v", got)
	}
	if diff := cmp.Diff([]string{"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}, runner.Targets()); diff != "" {
		t.Errorf("yt-dlp targets mismatch (-want +got):\n%s", diff)
	}

	// Two client failures open the youtube breaker; yt-dlp keeps serving.
	if _, err := r.Resolve(t.Context(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if _, err := r.Resolve(t.Context(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ"); err != nil {
		t.Fatalf("third Resolve: %v", err)
	}
	if videos.Calls() != 2 {
		t.Errorf("youtube client calls = %d, want 2 before the breaker opens", videos.Calls())
	}
	if st := r.Breakers()["youtube/youtube"]; st != resilience.StateOpen {
		t.Errorf("youtube breaker = %v, want open", st)
	}
}

func TestResolve_PlaylistIsAmbiguous(t *testing.T) {
	t.Parallel()

	videos := &fakeVideos{}
	runner := &fakeRunner{}
	r := newTestResolver(t, videos, runner)

	_, err := r.Resolve(t.Context(), "https://www.youtube.com/playlist?list=PL123")
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}
	if videos.Calls() != 0 || len(runner.Targets()) != 0 {
		t.Error("an ambiguous link must not fall back")
	}
}

func TestResolve_Search(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{out: `{"_type": "playlist", "entries": [` + songJSON + `]}`}
	r := newTestResolver(t, &fakeVideos{}, runner)

	got, err := r.Resolve(t.Context(), "  rick astley never gonna  ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Source != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Errorf("Source = %q", got.Source)
	}
	if diff := cmp.Diff([]string{"ytsearch1:rick astley never gonna"}, runner.Targets()); diff != "" {
		t.Errorf("yt-dlp targets mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		query  string
		runner *fakeRunner
	}{
		{name: "empty query", query: "   ", runner: &fakeRunner{}},
		{name: "empty search", query: "zzzz", runner: &fakeRunner{out: `{"_type": "playlist", "entries": []}`}},
		{
			name:  "unavailable video",
			query: "https://vimeo.com/1",
			runner: &fakeRunner{err: &CommandError{
				Err:    errors.New("exit status 1"),
				Stderr: "ERROR: [vimeo] 1: Video unavailable",
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestResolver(t, &fakeVideos{}, tt.runner)
			_, err := r.Resolve(t.Context(), tt.query)
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestResolve_LinkFallsBackToDirect(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: &CommandError{Err: errors.New("exit status 1"), Stderr: "ERROR: unable to download webpage"}}
	r := newTestResolver(t, &fakeVideos{}, runner)

	got, err := r.Resolve(t.Context(), "https://radio.example.com/stream")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := queue.Track{
		Source: "https://radio.example.com/stream",
		Title:  "stream",
		Live:   true,
		Direct: true,
	}
	if diff := cmp.Diff(want, got, ignoreID); diff != "" {
		t.Errorf("track mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_Timeout(t *testing.T) {
	t.Parallel()

	m, _ := observe.NewMetrics(noop.NewMeterProvider())
	r := New(Config{Timeout: 10 * time.Millisecond, Metrics: m},
		WithRunner(func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)
	_, err := r.Resolve(t.Context(), "slow search")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if strings.Contains(err.Error(), "all entries failed") {
		t.Error("a timeout must not try the remaining entries")
	}
}

func TestDirect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		link  string
		title string
		live  bool
	}{
		{link: "https://cdn.example.com/music/My%20Song.mp3", title: "My Song", live: false},
		{link: "http://ice.example.org:8000/live", title: "live", live: true},
		{link: "https://radio.example.net/", title: "radio.example.net", live: true},
	}
	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			t.Parallel()
			got, err := Direct{}.Resolve(t.Context(), tt.link)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got.Title != tt.title || got.Live != tt.live || !got.Direct {
				t.Errorf("got %+v, want title %q live %v", got, tt.title, tt.live)
			}
		})
	}

	if _, err := (Direct{}).Resolve(t.Context(), "ftp://example.com/a.mp3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ftp link err = %v, want ErrNotFound", err)
	}
}

func TestInfoTrack(t *testing.T) {
	t.Parallel()

	got, err := infoTrack(ytdlpInfo{
		Title:      "Set",
		Channel:    "DJ",
		LiveStatus: "is_live",
		Duration:   12,
		URL:        "https://twitch.tv/dj",
	}, "q")
	if err != nil {
		t.Fatalf("infoTrack: %v", err)
	}
	want := queue.Track{Source: "https://twitch.tv/dj", Title: "Set", Artist: "DJ", Live: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("track mismatch (-want +got):\n%s", diff)
	}

	_, err = infoTrack(ytdlpInfo{Type: "playlist", Entries: make([]ytdlpInfo, 3)}, "q")
	if !errors.Is(err, ErrAmbiguous) {
		t.Errorf("err = %v, want ErrAmbiguous", err)
	}
}

func TestRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		track  queue.Track
		direct bool
	}{
		{name: "youtube", track: queue.Track{Source: "https://www.youtube.com/watch?v=x"}, direct: false},
		{name: "direct track", track: queue.Track{Source: "https://radio.example.com/live", Direct: true}, direct: true},
		{name: "media file", track: queue.Track{Source: "https://cdn.example.com/a.ogg"}, direct: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := request(tt.track, 55)
			if req.Direct != tt.direct || req.URL != tt.track.Source || req.Volume != 55 {
				t.Errorf("request = %+v, want Direct=%v", req, tt.direct)
			}
		})
	}
}

type fakeStreams struct {
	req stream.Request
	err error
}

func (f *fakeStreams) Open(_ context.Context, req stream.Request) (*stream.Source, error) {
	f.req = req
	return nil, f.err
}

func TestOpener_WrapsStreamError(t *testing.T) {
	t.Parallel()

	streams := &fakeStreams{err: audio.ErrUnplayable}
	o := NewOpener(streams)

	_, err := o.Open(t.Context(), queue.Track{Title: "Song", Source: "https://cdn.example.com/a.mp3"}, 40)
	if !errors.Is(err, audio.ErrUnplayable) {
		t.Fatalf("Open error = %v, want ErrUnplayable", err)
	}
	want := stream.Request{URL: "https://cdn.example.com/a.mp3", Direct: true, Volume: 40}
	if diff := cmp.Diff(want, streams.req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}
