package ffmpeg

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// DecodeArgs returns the ffmpeg arguments that decode input from startAt to
// s16le PCM on stdout.
func DecodeArgs(input string, opts playback.DecoderOptions, startAt time.Duration) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}

	if h := formatHeaders(opts.Headers); h != "" {
		args = append(args, "-headers", h)
	}
	if opts.Reconnect {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	if opts.Timeout > 0 {
		// microseconds
		args = append(args, "-rw_timeout", strconv.FormatInt(opts.Timeout.Microseconds(), 10))
	}
	if startAt > 0 {
		args = append(args, "-ss", formatSeconds(startAt))
	}

	args = append(args, "-i", input, "-vn", "-f", "s16le", "-acodec", "pcm_s16le")
	if opts.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(opts.Channels))
	}
	return append(args, "pipe:1")
}

// TempoArgs returns the ffmpeg arguments for a stdin-to-stdout atempo filter.
func TempoArgs(chain []float64, sampleRate, channels int) []string {
	rate, ch := strconv.Itoa(sampleRate), strconv.Itoa(channels)
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", rate, "-ac", ch, "-i", "pipe:0",
		"-filter:a", playback.FormatAtempo(chain),
		"-f", "s16le", "-ar", rate, "-ac", ch, "pipe:1",
	}
}

// formatHeaders renders headers in the CRLF-terminated form ffmpeg expects,
// sorted for stable argument lists.
func formatHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	return b.String()
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
