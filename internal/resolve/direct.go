package resolve

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/MrWong99/hertz/internal/queue"
)

var mediaExtensions = map[string]bool{
	".mp3": true, ".ogg": true, ".opus": true, ".oga": true, ".flac": true,
	".wav": true, ".m4a": true, ".aac": true, ".webm": true, ".mp4": true,
}

// Direct describes an http(s) link as a media URL for the decoder to read
// as is. Links without a known audio file extension are assumed to be live
// radio streams.
type Direct struct{}

// Resolve never touches the network.
func (Direct) Resolve(_ context.Context, link string) (queue.Track, error) {
	u, ok := parseURL(link)
	if !ok {
		return queue.Track{}, fmt.Errorf("direct: %q is not an http(s) link: %w", link, ErrNotFound)
	}

	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	ext := strings.ToLower(path.Ext(name))
	title := strings.TrimSuffix(name, path.Ext(name))
	if title == "" || title == "." || title == "/" {
		title = u.Hostname()
	}

	return queue.Track{
		Source: u.String(),
		Title:  title,
		Live:   !mediaExtensions[ext],
		Direct: true,
	}, nil
}

// IsMediaURL reports whether link ends in a known audio file extension.
func IsMediaURL(link string) bool {
	u, ok := parseURL(link)
	if !ok {
		return false
	}
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}
