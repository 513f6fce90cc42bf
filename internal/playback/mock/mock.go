// Package mock provides test doubles for the collaborators of a playback
// session: [Opener] and [Resolver].
//
// Both record their calls and are safe for concurrent use.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/hertz/internal/observe"
	"github.com/MrWong99/hertz/internal/playback"
	"github.com/MrWong99/hertz/internal/queue"
	"github.com/MrWong99/hertz/pkg/audio"
	audiomock "github.com/MrWong99/hertz/pkg/audio/mock"
)

// OpenCall records one [Opener.Open] invocation.
type OpenCall struct {
	Track  queue.Track
	Volume int

	// Guild is the guild the call's context was scoped to.
	Guild string
}

// Script describes the frame source handed out for a track.
type Script struct {
	// Frames is the number of frames served; negative means unbounded.
	Frames int

	// Err is returned after Frames frames instead of end of stream.
	Err error

	// Delay is waited before each frame.
	Delay time.Duration

	CloseError error
}

// Opener is a mock implementation of [playback.Opener]. Each Open returns a
// fresh scripted [audiomock.FrameSource].
type Opener struct {
	mu sync.Mutex

	// Sources maps Track.Source to the script used for that track. Tracks
	// without an entry get Default.
	Sources map[string]Script

	// Default is the script for tracks not listed in Sources. The zero value
	// ends immediately; tests usually set Frames.
	Default Script

	// Errors maps Track.Source to an error returned by Open.
	Errors map[string]error

	// Calls records every Open call, in order.
	Calls []OpenCall

	// Opened holds the sources handed out, in order.
	Opened []*audiomock.FrameSource
}

// Open implements [playback.Opener].
func (o *Opener) Open(ctx context.Context, t queue.Track, volume int) (audio.FrameSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Calls = append(o.Calls, OpenCall{Track: t, Volume: volume, Guild: observe.GuildID(ctx)})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := o.Errors[t.Source]; ok && err != nil {
		return nil, fmt.Errorf("mock: open %s: %w", t.Source, err)
	}
	script := o.Default
	if s, ok := o.Sources[t.Source]; ok {
		script = s
	}
	src := &audiomock.FrameSource{
		Frames:     script.Frames,
		Err:        script.Err,
		Delay:      script.Delay,
		CloseError: script.CloseError,
	}
	o.Opened = append(o.Opened, src)
	return src, nil
}

// OpenedSources returns the Track.Source of every Open call, in order.
func (o *Opener) OpenedSources() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.Calls))
	for i, c := range o.Calls {
		out[i] = c.Track.Source
	}
	return out
}

// Guilds returns the guild scope of every Open call.
func (o *Opener) Guilds() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.Calls))
	for i, c := range o.Calls {
		out[i] = c.Guild
	}
	return out
}

// CallCount returns the number of Open calls.
func (o *Opener) CallCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Calls)
}

// Source returns the i-th source handed out, or nil.
func (o *Opener) Source(i int) *audiomock.FrameSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.Opened) {
		return nil
	}
	return o.Opened[i]
}

// LastVolume returns the volume of the last Open call, or -1.
func (o *Opener) LastVolume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.Calls) == 0 {
		return -1
	}
	return o.Calls[len(o.Calls)-1].Volume
}

// Resolver is a mock implementation of [playback.Resolver].
type Resolver struct {
	mu sync.Mutex

	// Tracks maps a query to its result.
	Tracks map[string]queue.Track

	// Err is returned for queries not in Tracks. When nil, such queries
	// resolve to a track whose Source and Title equal the query.
	Err error

	// Queries records every Resolve call.
	Queries []string

	// Guilds records the guild scope of every Resolve call.
	Guilds []string
}

// Resolve implements [playback.Resolver].
func (r *Resolver) Resolve(ctx context.Context, query string) (queue.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Queries = append(r.Queries, query)
	r.Guilds = append(r.Guilds, observe.GuildID(ctx))
	if t, ok := r.Tracks[query]; ok {
		return t, nil
	}
	if r.Err != nil {
		return queue.Track{}, r.Err
	}
	return queue.Track{Source: query, Title: query}, nil
}

// Compile-time interface assertions.
var (
	_ playback.Opener   = (*Opener)(nil)
	_ playback.Resolver = (*Resolver)(nil)
)
