package voicelink

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/hertz/pkg/audio"
)

const (
	originSource    = "source"
	originTransport = "transport"
)

// deliver is the fixed-cadence loop of one binding. It owns src for reading
// until ctx is cancelled or a terminal event is emitted.
func (l *Link) deliver(ctx context.Context, conn audio.Connection, src audio.FrameSource, gen uint64, done chan struct{}) {
	defer close(done)

	m := l.cfg.Metrics
	m.ActiveStreams.Add(ctx, 1)
	defer m.ActiveStreams.Add(context.Background(), -1)

	if err := conn.Speaking(true); err != nil {
		slog.Debug("voice link: speaking on", "err", err)
	}
	defer func() {
		if err := conn.Speaking(false); err != nil {
			slog.Debug("voice link: speaking off", "err", err)
		}
	}()

	ticker := time.NewTicker(l.cfg.FrameInterval)
	defer ticker.Stop()

	var (
		sent     int64
		failures int
		backoff  = l.cfg.Backoff
		pending  *audio.Frame
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// A frame that failed to transmit is retried before fetching another,
		// so transport hiccups do not drop audio.
		var (
			err    error
			origin string
		)
		if pending == nil {
			start := time.Now()
			fctx, cancel := context.WithTimeout(ctx, l.cfg.FrameTimeout)
			f, ferr := src.NextFrame(fctx)
			cancel()
			m.RecordNextFrame(ctx, time.Since(start))
			if ctx.Err() != nil {
				return
			}
			switch {
			case ferr == nil:
				pending = &f
			case errors.Is(ferr, audio.ErrEndOfStream):
				l.emit(ctx, Event{Kind: EventEndOfStream, Generation: gen, Frames: sent})
				return
			case errors.Is(ferr, audio.ErrUnplayable), errors.Is(ferr, audio.ErrClosed):
				m.RecordFrameFailure(ctx, originSource, failureKind(ferr))
				l.emit(ctx, Event{Kind: EventTrackFailed, Generation: gen, Frames: sent, Err: ferr})
				return
			default:
				err, origin = ferr, originSource
			}
		}

		if pending != nil {
			tctx, cancel := context.WithTimeout(ctx, l.cfg.SendTimeout)
			terr := conn.Transmit(tctx, *pending)
			cancel()
			if terr == nil {
				sent++
				m.RecordFrameSent(ctx)
				l.recordSuccess(pending.Elapsed())
				pending = nil
				failures = 0
				backoff = l.cfg.Backoff
				continue
			}
			if ctx.Err() != nil {
				return
			}
			err, origin = terr, originTransport
		}

		failures++
		m.RecordFrameFailure(ctx, origin, failureKind(err))
		l.recordFailure(failures)
		slog.Debug("voice link: delivery failure",
			"endpoint", l.Endpoint().String(),
			"origin", origin,
			"failures", failures,
			"err", err,
		)

		if failures >= l.cfg.MaxFailures {
			if origin == originTransport {
				l.mu.Lock()
				l.health = Lost
				l.mu.Unlock()
				slog.Warn("voice link lost", "endpoint", l.Endpoint().String(), "err", err)
				l.emit(ctx, Event{Kind: EventLost, Generation: gen, Frames: sent, Err: err})
				return
			}
			l.emit(ctx, Event{Kind: EventTrackFailed, Generation: gen, Frames: sent, Err: err})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.cfg.MaxBackoff)
	}
}

func (l *Link) recordSuccess(position time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	l.health = Healthy
	l.lastFrameAt = time.Now()
	l.position = position
}

func (l *Link) recordFailure(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = n
	if l.health == Healthy {
		l.health = Degraded
	}
}

// failureKind maps an error to a low-cardinality metric label.
func failureKind(err error) string {
	switch {
	case errors.Is(err, audio.ErrStalled), errors.Is(err, context.DeadlineExceeded):
		return "stalled"
	case errors.Is(err, audio.ErrNetworkFailure):
		return "network"
	case errors.Is(err, audio.ErrUnplayable):
		return "unplayable"
	case errors.Is(err, audio.ErrClosed):
		return "closed"
	case errors.Is(err, audio.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
