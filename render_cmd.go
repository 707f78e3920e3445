package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/ctrlc"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-desktop/internal/audio"
)

var (
	renderOutput string

	renderCmd = &cobra.Command{
		Use:   "render MANIFEST|FILE...",
		Short: "Render a book to a WAV file",
		Long: paragraph(fmt.Sprintf("\n%s a book into a single WAV file at the configured speed. "+
			"Decoding runs as fast as the machine allows.", keyword("Render"))),
		Example: paragraph("listenup render book.yaml -o book.wav --speed 1.5"),
		Args:    cobra.MinimumNArgs(1),
		RunE:    runRender,
	}
)

func init() {
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "book.wav", "WAV file to write")
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	wav, err := audio.CreateWAV(renderOutput)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg, args, wav)
	if err != nil {
		_ = wav.Close()
		_ = os.Remove(renderOutput)
		return err
	}
	defer eng.Close()

	started := time.Now()
	if err := eng.player.Play(); err != nil {
		_ = wav.Close()
		return fmt.Errorf("unable to start rendering: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	renderErr := ctrlc.Default.Run(ctx, func() error {
		return eng.player.WaitForEnd(ctx)
	})
	eng.player.Release()

	if err := wav.Close(); err != nil {
		return fmt.Errorf("unable to finish %s: %w", renderOutput, err)
	}
	if renderErr != nil {
		return fmt.Errorf("render stopped: %w", renderErr)
	}

	fmt.Printf("Wrote %s: %s of audio, %s, in %s\n",
		renderOutput,
		formatMs(wav.DurationMs()),
		humanize.Bytes(uint64(wav.DataSize())), //nolint:gosec
		time.Since(started).Round(time.Millisecond),
	)
	return nil
}
