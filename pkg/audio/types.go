package audio

import "time"

// Opus parameters used by every Hertz frame. Discord voice expects 48 kHz
// stereo Opus in 20 ms packets.
const (
	SampleRate    = 48000
	Channels      = 2
	FrameSamples  = 960 // samples per channel per frame
	FrameDuration = 20 * time.Millisecond
)

// Frame is one fixed-duration unit of encoded audio ready for transport.
type Frame struct {
	// Opus is the encoded packet.
	Opus []byte

	// Duration is the nominal playback length of the packet.
	Duration time.Duration

	// Seq is the zero-based position of the frame within its track.
	Seq int64
}

// Elapsed reports the playback position at the end of f.
func (f Frame) Elapsed() time.Duration {
	d := f.Duration
	if d <= 0 {
		d = FrameDuration
	}
	return time.Duration(f.Seq+1) * d
}
