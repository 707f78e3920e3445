// Package audio provides the output side of playback: a sound device sink
// built on oto/v3, a WAV file sink for rendering, and a paced null sink. All
// sinks accept 16-bit little-endian interleaved PCM.
package audio
