package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/listenupapp/listenup-desktop/internal/playback"
)

// ProbeResult describes the first audio stream of a media source.
type ProbeResult struct {
	Format     string
	Codec      string
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitRate    int64
	Tags       map[string]string
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string            `json:"format_name"`
		Duration   string            `json:"duration"`
		BitRate    string            `json:"bit_rate"`
		Tags       map[string]string `json:"tags"`
	} `json:"format"`
}

// ProbeArgs returns the ffprobe arguments for input.
func ProbeArgs(input string, headers map[string]string) []string {
	args := []string{"-v", "error", "-print_format", "json", "-show_format", "-show_streams", "-select_streams", "a:0"}
	if h := formatHeaders(headers); h != "" {
		args = append(args, "-headers", h)
	}
	return append(args, input)
}

// Probe runs ffprobe against input.
func (t *Tools) Probe(ctx context.Context, input string, headers map[string]string) (*ProbeResult, error) {
	out, err := execute(ctx, t.ProbeTimeout, t.FFprobe, ProbeArgs(input, headers)...)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	res := &ProbeResult{
		Format: raw.Format.FormatName,
		Tags:   raw.Format.Tags,
	}
	res.Duration = parseSeconds(raw.Format.Duration)
	res.BitRate, _ = strconv.ParseInt(raw.Format.BitRate, 10, 64)

	for _, s := range raw.Streams {
		if s.CodecType != "audio" {
			continue
		}
		res.Codec = s.CodecName
		res.Channels = s.Channels
		res.SampleRate, _ = strconv.Atoi(s.SampleRate)
		if res.Duration == 0 {
			res.Duration = parseSeconds(s.Duration)
		}
		return res, nil
	}
	return nil, fmt.Errorf("no audio stream found")
}

func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// ProbeDuration returns the length of src as reported by ffprobe.
func (t *Tools) ProbeDuration(ctx context.Context, src playback.Source, headers map[string]string) (time.Duration, error) {
	res, err := t.Probe(ctx, src.Location(), headers)
	if err != nil {
		return 0, err
	}
	if res.Duration <= 0 {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", src)
	}
	return res.Duration, nil
}
