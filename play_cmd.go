package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/ctrlc"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/listenupapp/listenup-desktop/internal/config"
	"github.com/listenupapp/listenup-desktop/internal/logging"
	"github.com/listenupapp/listenup-desktop/internal/playback"
	"github.com/listenupapp/listenup-desktop/internal/progress"
	"github.com/listenupapp/listenup-desktop/ui"
)

// progressBuffer is the subscription depth for the progress tracker.
const progressBuffer = 64

var (
	noTUI    bool
	noAudio  bool
	noResume bool
	startAt  time.Duration

	playCmd = &cobra.Command{
		Use:     "play MANIFEST|FILE...",
		Short:   "Play a book",
		Long:    paragraph(fmt.Sprintf("\n%s a book from a manifest or a list of audio files. Progress is saved and playback resumes where you left off.", keyword("Play"))),
		Example: paragraph("listenup play book.yaml\nlistenup play --start 1h2m book.yaml\nlistenup play --no-tui --no-audio part*.mp3"),
		Args:    cobra.MinimumNArgs(1),
		RunE:    runPlay,
	}
)

func addPlayFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "play without the terminal UI")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "play silently in real time, without a sound device")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "ignore saved progress")
	cmd.Flags().DurationVar(&startAt, "start", 0, "start position, e.g. 1h2m3s (overrides saved progress)")
}

func init() {
	addPlayFlags(playCmd)
}

// usesTUI reports whether cmd will run the full-screen player.
func usesTUI(cmd *cobra.Command) bool {
	if cmd.HasParent() && cmd.Name() != "play" {
		return false
	}
	return !noTUI && term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func runPlay(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if noAudio {
		cfg.Player.Output = config.OutputNone
	}
	sinks, err := openSinks(cfg.Player)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg, args, sinks)
	if err != nil {
		return err
	}
	defer eng.Close()

	var store *progress.SQLiteStore
	if cfg.Progress.Enabled {
		store, err = openProgressStore()
		if err != nil {
			eng.logger.Warn("Progress tracking disabled", "error", err)
		} else {
			defer store.Close() //nolint:errcheck
		}
	}

	if err := seekToStart(ctx, eng, store, cmd.Flags().Changed("start")); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	stopTracking := func() {}
	if store != nil {
		tracker := progress.NewTracker(store, eng.book.ID, cfg.Progress.Interval, logging.New("progress"))
		updates, unsubscribe := eng.player.Subscribe(progressBuffer)
		stopTracking = unsubscribe
		g.Go(func() error { return tracker.Run(gctx, updates) })
	}

	if err := eng.player.Play(); err != nil {
		stopTracking()
		_ = g.Wait()
		return fmt.Errorf("unable to start playback: %w", err)
	}

	var playErr error
	if usesTUI(cmd) {
		playErr = runTUI(eng)
	} else {
		playErr = runHeadless(ctx, eng)
	}

	// Pause first so the tracker records where listening stopped.
	if eng.player.State() == playback.StatePlaying {
		_ = eng.player.Pause()
	}
	stopTracking()
	if err := g.Wait(); err != nil {
		eng.logger.Warn("Progress was not fully saved", "error", err)
	}
	return playErr
}

// seekToStart positions the player at --start, or at the saved position.
func seekToStart(ctx context.Context, eng *engine, store *progress.SQLiteStore, explicit bool) error {
	var pos int64
	switch {
	case explicit:
		pos = startAt.Milliseconds()
	case store != nil && !noResume:
		saved, err := progress.ResumePosition(ctx, store, eng.book.ID)
		if err != nil {
			eng.logger.Warn("Unable to read saved progress", "error", err)
			return nil
		}
		pos = saved
	}
	if pos <= 0 {
		return nil
	}
	if pos >= eng.player.Duration() {
		return fmt.Errorf("start position %s is past the end of the book", time.Duration(pos)*time.Millisecond)
	}
	eng.logger.Info("Resuming", "book", eng.book.ID, "positionMs", pos)
	return eng.player.SeekTo(pos)
}

func runTUI(eng *engine) error {
	// Read environment to get UI tuning
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	uiCfg.Title = eng.title()
	uiCfg.Author = eng.book.Author
	uiCfg.Segments = len(eng.segments)

	if _, err := ui.NewProgram(eng.player, uiCfg).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

// runHeadless plays until the book ends or the user interrupts.
func runHeadless(ctx context.Context, eng *engine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintf(os.Stderr, "Playing %s (%d parts, %s)\n", eng.title(), len(eng.segments), formatMs(eng.player.Duration()))

	err := ctrlc.Default.Run(ctx, func() error {
		return eng.player.WaitForEnd(ctx)
	})
	var interrupted ctrlc.ErrorCtrlC
	if errors.As(err, &interrupted) {
		fmt.Fprintf(os.Stderr, "\nStopped at %s\n", formatMs(eng.player.Position()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Finished.")
	return nil
}

func openProgressStore() (*progress.SQLiteStore, error) {
	path, err := cfg.Progress.DatabasePath()
	if err != nil {
		return nil, fmt.Errorf("unable to locate progress database: %w", err)
	}
	return progress.OpenSQLite(path)
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}
