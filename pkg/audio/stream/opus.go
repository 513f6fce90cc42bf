package stream

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/hertz/pkg/audio"
)

// pcmFrameBytes is the exact PCM input size for one Opus frame:
// 960 samples/channel × 2 channels × 2 bytes/sample = 3840 bytes.
const pcmFrameBytes = audio.FrameSamples * audio.Channels * 2

// maxOpusPacket bounds the encoded packet size handed to gopus.
const maxOpusPacket = 4000

// opusEncoder wraps a gopus Opus encoder for one track.
type opusEncoder struct {
	enc     *gopus.Encoder
	samples []int16
}

// newOpusEncoder creates an Opus encoder configured for Discord audio.
func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(audio.SampleRate, audio.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("stream: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode scales one frame of little-endian PCM by volume and encodes it.
func (e *opusEncoder) encode(pcm []byte, volume int) ([]byte, error) {
	e.samples = audio.BytesToInt16s(e.samples, pcm)
	audio.ApplyGain(e.samples, volume)
	opus, err := e.enc.Encode(e.samples, audio.FrameSamples, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("stream: opus encode: %w", err)
	}
	return opus, nil
}
