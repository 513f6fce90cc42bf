// Package mock provides in-memory mock implementations of the [audio.Platform],
// [audio.Connection], and [audio.FrameSource] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := &mock.Connection{}
//	platform := &mock.Platform{ConnectResult: conn, FailFirst: 1}
//	src := &mock.FrameSource{Frames: 50}
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/hertz/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// TransmitError is returned by every [Connection.Transmit] call once
	// TransmitErrors has been consumed.
	TransmitError error

	// TransmitErrors is consumed in order, one entry per Transmit call.
	// A nil entry means success.
	TransmitErrors []error

	// SpeakingError is returned by [Connection.Speaking].
	SpeakingError error

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// Transmitted holds every frame accepted by Transmit, in order.
	Transmitted []audio.Frame

	// SpeakingCalls records the argument of every Speaking call.
	SpeakingCalls []bool

	// CallCountTransmit records how many times Transmit was called.
	CallCountTransmit int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int
}

// Transmit implements [audio.Connection]. Frames are only recorded when the
// call succeeds.
func (c *Connection) Transmit(_ context.Context, f audio.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountTransmit++
	err := c.TransmitError
	if len(c.TransmitErrors) > 0 {
		err = c.TransmitErrors[0]
		c.TransmitErrors = c.TransmitErrors[1:]
	}
	if err != nil {
		return err
	}
	c.Transmitted = append(c.Transmitted, f)
	return nil
}

// Speaking implements [audio.Connection]. Returns SpeakingError.
func (c *Connection) Speaking(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SpeakingCalls = append(c.SpeakingCalls, on)
	return c.SpeakingError
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// SetTransmitError replaces TransmitError under the mock's lock. Use this
// from tests while a delivery loop is running.
func (c *Connection) SetTransmitError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TransmitError = err
}

// TransmittedCount returns len(Transmitted) under the mock's lock.
func (c *Connection) TransmittedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Transmitted)
}

// Frames returns a copy of Transmitted under the mock's lock.
func (c *Connection) Frames() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Frame(nil), c.Transmitted...)
}

// Disconnects returns CallCountDisconnect under the mock's lock.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect. When nil a
	// fresh *Connection is created per successful call and appended to
	// Connections.
	ConnectResult audio.Connection

	// ConnectError is returned by Connect once FailFirst failures were served.
	ConnectError error

	// FailFirst makes the first FailFirst calls fail with FailError.
	FailFirst int

	// FailError is the error used for the FailFirst failures. Defaults to a
	// generic "connect refused" error.
	FailError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections holds the connections created when ConnectResult is nil.
	Connections []*Connection
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if len(p.ConnectCalls) <= p.FailFirst {
		if p.FailError != nil {
			return nil, p.FailError
		}
		return nil, fmt.Errorf("mock: connect refused (attempt %d)", len(p.ConnectCalls))
	}
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	if p.ConnectResult != nil {
		return p.ConnectResult, nil
	}
	c := &Connection{}
	p.Connections = append(p.Connections, c)
	return c, nil
}

// SetConnectError replaces ConnectError under the mock's lock.
func (p *Platform) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectError = err
}

// Connection returns Connections[i] under the mock's lock, or nil when fewer
// connections were created.
func (p *Platform) Connection(i int) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Connections) {
		return nil
	}
	return p.Connections[i]
}

// Calls returns len(ConnectCalls) under the mock's lock.
func (p *Platform) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// ─── FrameSource ──────────────────────────────────────────────────────────────

// FrameSource is a scripted implementation of [audio.FrameSource].
//
// It serves Frames frames and then returns Err, or [audio.ErrEndOfStream]
// when Err is nil. A negative Frames value produces an unbounded stream.
type FrameSource struct {
	mu sync.Mutex

	// Frames is the number of frames served before the terminal result.
	Frames int

	// Err is returned, repeatedly, once Frames frames were served.
	Err error

	// Delay is waited before each frame. A context deadline during the wait
	// returns an error wrapping [audio.ErrStalled].
	Delay time.Duration

	// CloseError is returned by the first Close call.
	CloseError error

	// Served is the number of frames returned so far.
	Served int

	// CallCountNextFrame records how many times NextFrame was called.
	CallCountNextFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	closed bool
}

// NextFrame implements [audio.FrameSource].
func (s *FrameSource) NextFrame(ctx context.Context) (audio.Frame, error) {
	s.mu.Lock()
	s.CallCountNextFrame++
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return audio.Frame{}, fmt.Errorf("mock: %w: %w", audio.ErrStalled, ctx.Err())
		case <-time.After(delay):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.Frame{}, audio.ErrClosed
	}
	if s.Frames >= 0 && s.Served >= s.Frames {
		if s.Err != nil {
			return audio.Frame{}, s.Err
		}
		return audio.Frame{}, audio.ErrEndOfStream
	}
	f := audio.Frame{
		Opus:     []byte{byte(s.Served), 0xF8},
		Duration: audio.FrameDuration,
		Seq:      int64(s.Served),
	}
	s.Served++
	return f, nil
}

// Close implements [audio.FrameSource]. Only the first call returns CloseError.
func (s *FrameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	return s.CloseError
}

// Closed reports whether Close was called.
func (s *FrameSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ServedCount returns Served under the mock's lock.
func (s *FrameSource) ServedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Served
}

// NextFrameCalls returns CallCountNextFrame under the mock's lock.
func (s *FrameSource) NextFrameCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountNextFrame
}

// Compile-time interface assertions.
var (
	_ audio.Connection  = (*Connection)(nil)
	_ audio.Platform    = (*Platform)(nil)
	_ audio.FrameSource = (*FrameSource)(nil)
)
