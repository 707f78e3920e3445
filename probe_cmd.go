package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-desktop/internal/ffmpeg"
	"github.com/listenupapp/listenup-desktop/internal/logging"
)

var probeCmd = &cobra.Command{
	Use:     "probe FILE|URL...",
	Short:   "Show the audio format of files or streams",
	Long:    paragraph(fmt.Sprintf("\n%s audio files or stream urls with ffprobe and print codec, rate, channels, duration and size.", keyword("Inspect"))),
	Example: paragraph("listenup probe part01.mp3\nlistenup probe https://example.com/audio/book.m4b"),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		tools := ffmpeg.New(cfg.Player.FFmpegPath, cfg.Player.FFprobePath, logging.New("ffmpeg"))
		tokens, closeTokens, err := tokenProvider(cfg.Server)
		if err != nil {
			return err
		}
		defer closeTokens() //nolint:errcheck

		for i, arg := range args {
			var headers map[string]string
			if isRemote(arg) {
				if tok := tokens.Token(); tok != "" {
					headers = map[string]string{"Authorization": "Bearer " + tok}
				}
			}
			info, err := tools.Probe(ctx, arg, headers)
			if err != nil {
				return fmt.Errorf("unable to probe %s: %w", arg, err)
			}
			if i > 0 {
				fmt.Println()
			}
			printProbe(os.Stdout, arg, info)
		}
		return nil
	},
}

func printProbe(w io.Writer, name string, info *ffmpeg.ProbeResult) {
	fmt.Fprintln(w, keyword(name))
	fmt.Fprintf(w, "  format:   %s\n", info.Format)
	fmt.Fprintf(w, "  codec:    %s\n", info.Codec)
	fmt.Fprintf(w, "  duration: %s\n", formatMs(info.Duration.Milliseconds()))
	fmt.Fprintf(w, "  audio:    %s, %s\n", humanize.SI(float64(info.SampleRate), "Hz"), channelLayout(info.Channels))
	if info.BitRate > 0 {
		fmt.Fprintf(w, "  bitrate:  %s\n", humanize.SI(float64(info.BitRate), "bps"))
	}
	if !isRemote(name) {
		if st, err := os.Stat(name); err == nil {
			fmt.Fprintf(w, "  size:     %s\n", humanize.Bytes(uint64(st.Size()))) //nolint:gosec
		}
	}

	keys := make([]string, 0, len(info.Tags))
	for k := range info.Tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-9s %s\n", strings.ToLower(k)+":", info.Tags[k])
	}
}

func channelLayout(n int) string {
	switch n {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return fmt.Sprintf("%d channels", n)
	}
}

func isRemote(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
