package resolve

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/MrWong99/hertz/internal/queue"
)

// VideoClient fetches YouTube video metadata. *youtube.Client satisfies it.
type VideoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
}

var _ VideoClient = (*youtube.Client)(nil)

// YouTube resolves YouTube links through the kkdai/youtube client. It does
// not search; free text goes to [YTDLP].
type YouTube struct {
	client VideoClient
}

// NewYouTube returns a YouTube resolver using c, or a default client when c
// is nil.
func NewYouTube(c VideoClient) *YouTube {
	return &YouTube{client: c}
}

// Resolve fetches the metadata of the video link. Playlist links without a
// selected video fail with [ErrAmbiguous].
func (y *YouTube) Resolve(ctx context.Context, link string) (queue.Track, error) {
	u, ok := parseURL(link)
	if !ok || !isYouTubeHost(u.Hostname()) {
		return queue.Track{}, fmt.Errorf("youtube: %q is not a youtube link: %w", link, ErrNotFound)
	}
	if isPlaylistOnly(u) {
		return queue.Track{}, fmt.Errorf("youtube: %q is a playlist: %w", link, ErrAmbiguous)
	}

	client := y.client
	if client == nil {
		client = &youtube.Client{}
	}
	v, err := client.GetVideoContext(ctx, link)
	if err != nil {
		return queue.Track{}, fmt.Errorf("youtube: get video %q: %w", link, err)
	}
	if v == nil || v.ID == "" {
		return queue.Track{}, fmt.Errorf("youtube: get video %q: %w", link, ErrNotFound)
	}

	live := v.HLSManifestURL != "" && v.Duration == 0
	t := queue.Track{
		Source: "https://www.youtube.com/watch?v=" + v.ID,
		Title:  v.Title,
		Artist: v.Author,
		Live:   live,
	}
	if !live {
		t.Duration = v.Duration
	}
	return t, nil
}

// isPlaylistOnly reports whether u points at a playlist rather than one
// video inside it.
func isPlaylistOnly(u *url.URL) bool {
	q := u.Query()
	if strings.EqualFold(u.Hostname(), "youtu.be") {
		return false
	}
	return u.Path == "/playlist" || (q.Get("list") != "" && q.Get("v") == "")
}
