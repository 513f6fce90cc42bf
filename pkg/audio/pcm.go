package audio

// MaxVolume is the upper bound of the volume scale. 100 means unity gain.
const MaxVolume = 100

// ClampVolume limits v to the range [0, MaxVolume].
func ClampVolume(v int) int {
	return min(max(v, 0), MaxVolume)
}

// ApplyGain scales interleaved int16 samples in place by volume/100.
// Uses int32 arithmetic and clamps to the int16 range.
func ApplyGain(pcm []int16, volume int) {
	volume = ClampVolume(volume)
	if volume == MaxVolume {
		return
	}
	for i, s := range pcm {
		v := int32(s) * int32(volume) / MaxVolume
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i] = int16(v)
	}
}

// BytesToInt16s decodes little-endian int16 PCM into dst, growing it when
// needed, and returns the filled slice.
func BytesToInt16s(dst []int16, b []byte) []int16 {
	n := len(b) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return dst
}

// Int16sToBytes encodes int16 PCM samples as little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
