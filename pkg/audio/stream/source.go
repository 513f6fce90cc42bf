// Package stream turns a decoded PCM byte stream into an [audio.FrameSource].
//
// A [Source] reads signed 16-bit little-endian 48 kHz stereo PCM (the output
// of `ffmpeg -f s16le -ar 48000 -ac 2`), applies the track volume, encodes
// each 20 ms chunk with Opus and keeps a bounded number of frames prefetched
// so that the voice loop never waits on the decoder under normal conditions.
//
// [Opener] starts the external yt-dlp and ffmpeg processes that produce the
// PCM stream.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/hertz/pkg/audio"
)

// DefaultPrefetch is the number of encoded frames buffered ahead of playback.
const DefaultPrefetch = 50

// closeGrace bounds how long Close waits for the reader goroutine.
const closeGrace = 2 * time.Second

// Compile-time interface assertion.
var _ audio.FrameSource = (*Source)(nil)

// Source is an [audio.FrameSource] backed by a PCM reader.
type Source struct {
	frames chan audio.Frame
	done   chan struct{} // closed when the reader goroutine returns

	// err is the terminal error. It is written before frames is closed and
	// only read after observing the closed channel.
	err error

	r       io.ReadCloser
	wait    func() error
	kill    func()
	volume  int
	stopped chan struct{}

	closeOnce sync.Once
}

// SourceOptions configure [NewSource].
type SourceOptions struct {
	// Volume is the gain in percent (0–100).
	Volume int

	// Prefetch is the number of frames buffered ahead. Defaults to
	// [DefaultPrefetch].
	Prefetch int

	// Wait reports how the producer exited. It is called after the reader
	// stops and must be safe to call more than once. A nil Wait treats every
	// EOF as a clean end of stream.
	Wait func() error

	// Kill stops the producer. Called by Close before closing the reader.
	Kill func()
}

// NewSource starts encoding PCM from r in a background goroutine. The source
// owns r and closes it on [Source.Close].
func NewSource(r io.ReadCloser, opts SourceOptions) (*Source, error) {
	enc, err := newOpusEncoder()
	if err != nil {
		return nil, err
	}
	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	s := &Source{
		frames:  make(chan audio.Frame, prefetch),
		done:    make(chan struct{}),
		r:       r,
		wait:    opts.Wait,
		kill:    opts.Kill,
		volume:  audio.ClampVolume(opts.Volume),
		stopped: make(chan struct{}),
	}
	go s.run(enc)
	return s, nil
}

// NextFrame returns the next prefetched frame. It blocks until a frame is
// ready, the stream ends, the source is closed or ctx is done.
func (s *Source) NextFrame(ctx context.Context) (audio.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return audio.Frame{}, s.err
		}
		return f, nil
	case <-s.stopped:
		return audio.Frame{}, audio.ErrClosed
	case <-ctx.Done():
		return audio.Frame{}, fmt.Errorf("stream: %w: %w", audio.ErrStalled, ctx.Err())
	}
}

// Close stops the producer, closes the reader and waits up to a short grace
// period for the encoder goroutine. It is idempotent.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopped)
		if s.kill != nil {
			s.kill()
		}
		if cerr := s.r.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = cerr
		}
		select {
		case <-s.done:
		case <-time.After(closeGrace):
			slog.Warn("stream: encoder did not stop within grace period")
		}
	})
	if err != nil {
		return fmt.Errorf("stream: close: %w", err)
	}
	return nil
}

// run reads, encodes and forwards frames until EOF, failure or Close.
func (s *Source) run(enc *opusEncoder) {
	defer close(s.done)
	defer func() {
		if s.wait != nil {
			_ = s.wait()
		}
	}()

	buf := make([]byte, pcmFrameBytes)
	var seq int64
	for {
		n, rerr := io.ReadFull(s.r, buf)
		if n > 0 {
			// Pad a trailing partial frame with silence.
			clear(buf[n:])
			opus, err := enc.encode(buf, s.volume)
			if err != nil {
				s.finish(fmt.Errorf("stream: frame %d: %w: %w", seq, audio.ErrNetworkFailure, err))
				return
			}
			f := audio.Frame{Opus: opus, Duration: audio.FrameDuration, Seq: seq}
			select {
			case s.frames <- f:
				seq++
			case <-s.stopped:
				s.finish(audio.ErrClosed)
				return
			}
		}
		if rerr == nil {
			continue
		}

		select {
		case <-s.stopped:
			s.finish(audio.ErrClosed)
			return
		default:
		}
		s.finish(s.classify(rerr, seq))
		return
	}
}

// classify maps the reader's terminal error and the producer's exit status to
// one of the audio error kinds.
func (s *Source) classify(rerr error, frames int64) error {
	var exitErr error
	if s.wait != nil {
		exitErr = s.wait()
	}
	clean := errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF)
	switch {
	case clean && exitErr == nil && frames > 0:
		return audio.ErrEndOfStream
	case frames == 0:
		cause := exitErr
		if cause == nil {
			cause = rerr
		}
		return fmt.Errorf("stream: no audio decoded: %w: %w", audio.ErrUnplayable, cause)
	case exitErr != nil:
		return fmt.Errorf("stream: producer failed after %d frames: %w: %w", frames, audio.ErrNetworkFailure, exitErr)
	default:
		return fmt.Errorf("stream: read after %d frames: %w: %w", frames, audio.ErrNetworkFailure, rerr)
	}
}

func (s *Source) finish(err error) {
	s.err = err
	close(s.frames)
}
