package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/pkg/audio"
	"github.com/MrWong99/hertz/pkg/audio/stream"
)

// StreamOpener starts a decoding pipeline. *stream.Opener satisfies it.
type StreamOpener interface {
	Open(ctx context.Context, req stream.Request) (*stream.Source, error)
}

var _ StreamOpener = (*stream.Opener)(nil)

// Opener adapts a [StreamOpener] to [playback.Opener].
type Opener struct {
	streams StreamOpener
}

var _ playback.Opener = (*Opener)(nil)

// NewOpener wraps s.
func NewOpener(s StreamOpener) *Opener {
	return &Opener{streams: s}
}

// Open starts decoding t at the given volume.
func (o *Opener) Open(ctx context.Context, t queue.Track, volume int) (audio.FrameSource, error) {
	ctx, span := observe.StartSpan(ctx, "open_source")
	defer span.End()

	start := time.Now()
	src, err := o.streams.Open(ctx, request(t, volume))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("resolve: open %q: %w", t.Title, err)
	}
	observe.Logger(ctx).Debug("resolve: source opened",
		"track", t.Title,
		"direct", t.Direct,
		"took", time.Since(start),
	)
	return src, nil
}

// request maps a track to a decoder request. Direct media links and files
// are read by ffmpeg itself; everything else goes through yt-dlp.
func request(t queue.Track, volume int) stream.Request {
	return stream.Request{
		URL:    t.Source,
		Direct: t.Direct || IsMediaURL(t.Source),
		Volume: volume,
	}
}
