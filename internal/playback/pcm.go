package playback

import "encoding/binary"

// bytesPerSample is fixed: everything downstream of the decoder is s16le.
const bytesPerSample = 2

// EncodePCM writes samples as 16-bit little-endian interleaved PCM into dst,
// growing it when needed, and returns the filled slice.
func EncodePCM(dst []byte, samples []int16) []byte {
	n := len(samples) * bytesPerSample
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*bytesPerSample:], uint16(s))
	}
	return dst
}

// DecodePCM converts 16-bit little-endian interleaved PCM back into samples.
// A trailing odd byte is ignored.
func DecodePCM(p []byte) []int16 {
	samples := make([]int16, len(p)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(p[i*bytesPerSample:]))
	}
	return samples
}

// SinkBufferBytes returns the queue size for roughly 100ms of audio.
func SinkBufferBytes(sampleRate, channels int) int {
	return sampleRate * channels * bytesPerSample / 10
}
