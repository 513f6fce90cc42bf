// Package audio defines the interfaces and types for voice transport
// connectivity and frame production within Hertz.
//
// The primary abstractions are:
//
//   - [FrameSource]: produces the encoded frames of exactly one track.
//   - [Platform]: joins a voice channel and returns a [Connection].
//   - [Connection]: an active voice session that transmits frames.
//
// Implementations are provided by adapter packages (audio/discord for the
// transport, audio/stream for ffmpeg-backed sources). The interfaces are kept
// narrow so the playback engine stays decoupled from provider details.
//
// This package lives under pkg/ because external code is expected to
// implement [Platform], [Connection] and [FrameSource].
package audio

import (
	"context"
	"errors"
)

// Error kinds reported by [FrameSource.NextFrame]. Implementations wrap these
// sentinels so callers can classify failures with [errors.Is].
var (
	// ErrEndOfStream signals that the source has no more frames. It is not a
	// failure: ordinary tracks end with it.
	ErrEndOfStream = errors.New("audio: end of stream")

	// ErrStalled is returned when no frame became available in time.
	ErrStalled = errors.New("audio: source stalled")

	// ErrUnplayable is returned when the track cannot be decoded at all.
	ErrUnplayable = errors.New("audio: unplayable")

	// ErrNetworkFailure is returned when the upstream fails mid-stream.
	ErrNetworkFailure = errors.New("audio: network failure")

	// ErrTransport is returned by [Connection.Transmit] when the transport
	// rejects or cannot accept a frame.
	ErrTransport = errors.New("audio: transport error")

	// ErrClosed is returned by operations on a closed source or connection.
	ErrClosed = errors.New("audio: closed")
)

// FrameSource produces a lazy sequence of fixed-duration encoded frames for a
// single track. The sequence is finite for ordinary tracks and unbounded for
// live streams. A source cannot be rewound; replaying a track means opening a
// new source.
//
// NextFrame is not safe for concurrent use; Close may be called from any
// goroutine, including while NextFrame is blocked.
type FrameSource interface {
	// NextFrame blocks until the next frame is available, ctx is done, or the
	// stream ends. It returns [ErrEndOfStream] at the end of the track and an
	// error wrapping [ErrStalled], [ErrUnplayable] or [ErrNetworkFailure] on
	// failure. A context deadline while waiting is reported as [ErrStalled].
	NextFrame(ctx context.Context) (Frame, error)

	// Close releases the underlying resources. It is idempotent.
	Close() error
}

// Connection represents an active session on a voice channel.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called or the transport drops.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// Transmit hands one frame to the transport. It either delivers the
	// whole frame or none of it; it never blocks past ctx. Failures wrap
	// [ErrTransport] or [ErrClosed].
	Transmit(ctx context.Context, f Frame) error

	// Speaking toggles the speaking indicator on platforms that have one.
	Speaking(on bool) error

	// Disconnect tears down the connection. It is safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice provider.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel channelID in guildID. ctx governs the
	// connection attempt only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
