package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/MrWong99/hertz/internal/queue"
)

// Runner executes an external command and returns its standard output.
// A failed command returns a *CommandError.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandError carries the standard error of a failed command.
type CommandError struct {
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &CommandError{Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return out, nil
}

// yt-dlp messages that mean the item does not exist or cannot be played.
var notFoundMarkers = []string{
	"Unsupported URL",
	"Video unavailable",
	"This video is unavailable",
	"Private video",
	"is not a valid URL",
	"HTTP Error 404",
	"This video has been removed",
}

// YTDLP resolves links and searches by asking yt-dlp for the item's JSON
// metadata.
type YTDLP struct {
	path string
	run  Runner
}

// NewYTDLP returns a yt-dlp resolver. Empty path means "yt-dlp" and a nil
// run means [ExecRunner].
func NewYTDLP(path string, run Runner) *YTDLP {
	return &YTDLP{path: path, run: run}
}

// ytdlpInfo is the subset of yt-dlp's info JSON used here.
type ytdlpInfo struct {
	Type        string      `json:"_type"`
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Track       string      `json:"track"`
	Artist      string      `json:"artist"`
	Uploader    string      `json:"uploader"`
	Channel     string      `json:"channel"`
	Duration    float64     `json:"duration"`
	IsLive      bool        `json:"is_live"`
	LiveStatus  string      `json:"live_status"`
	WebpageURL  string      `json:"webpage_url"`
	OriginalURL string      `json:"original_url"`
	URL         string      `json:"url"`
	Entries     []ytdlpInfo `json:"entries"`
}

// Resolve runs "yt-dlp -J" on target, which is a link or a search
// expression such as "ytsearch1:query".
func (y *YTDLP) Resolve(ctx context.Context, target string) (queue.Track, error) {
	path := y.path
	if path == "" {
		path = "yt-dlp"
	}
	run := y.run
	if run == nil {
		run = ExecRunner
	}

	out, err := run(ctx, path, "-J", "--no-playlist", "--no-warnings", "--", target)
	if err != nil {
		var ce *CommandError
		if errors.As(err, &ce) && isNotFoundMessage(ce.Stderr) {
			return queue.Track{}, fmt.Errorf("yt-dlp: %q: %w", target, ErrNotFound)
		}
		return queue.Track{}, fmt.Errorf("yt-dlp: %q: %w", target, err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return queue.Track{}, fmt.Errorf("yt-dlp: decode %q: %w", target, err)
	}
	return infoTrack(info, target)
}

func infoTrack(info ytdlpInfo, target string) (queue.Track, error) {
	if info.Type == "playlist" {
		switch len(info.Entries) {
		case 0:
			return queue.Track{}, fmt.Errorf("yt-dlp: %q: %w", target, ErrNotFound)
		case 1:
			info = info.Entries[0]
		default:
			return queue.Track{}, fmt.Errorf("yt-dlp: %q has %d entries: %w", target, len(info.Entries), ErrAmbiguous)
		}
	}

	src := firstNonEmpty(info.WebpageURL, info.OriginalURL, info.URL)
	if src == "" {
		return queue.Track{}, fmt.Errorf("yt-dlp: %q: no url in metadata: %w", target, ErrNotFound)
	}
	live := info.IsLive || info.LiveStatus == "is_live"
	t := queue.Track{
		Source: src,
		Title:  firstNonEmpty(info.Track, info.Title, src),
		Artist: firstNonEmpty(info.Artist, info.Uploader, info.Channel),
		Live:   live,
	}
	if !live && info.Duration > 0 {
		t.Duration = time.Duration(info.Duration * float64(time.Second))
	}
	return t, nil
}

// searcher turns free text into a yt-dlp search expression.
type searcher struct {
	prefix string
	ytdlp  *YTDLP
}

func (s *searcher) Resolve(ctx context.Context, query string) (queue.Track, error) {
	return s.ytdlp.Resolve(ctx, s.prefix+query)
}

func isNotFoundMessage(stderr string) bool {
	for _, m := range notFoundMarkers {
		if strings.Contains(stderr, m) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
