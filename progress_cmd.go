package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-desktop/internal/progress"
)

var (
	historyLimit int
	pruneKeep    int

	progressCmd = &cobra.Command{
		Use:     "progress",
		Short:   "Show saved listening progress",
		Long:    paragraph(fmt.Sprintf("\n%s the saved position of every book, newest first.", keyword("List"))),
		Example: paragraph("listenup progress\nlistenup progress history book-123\nlistenup progress prune book-123 --keep 10"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *progress.SQLiteStore) error {
				books, err := store.Books(ctx)
				if err != nil {
					return err
				}
				if len(books) == 0 {
					fmt.Println("No progress saved yet.")
					return nil
				}
				printBooks(os.Stdout, books)
				return nil
			})
		},
	}

	historyCmd = &cobra.Command{
		Use:   "history BOOK_ID",
		Short: "Show recorded snapshots of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *progress.SQLiteStore) error {
				snaps, err := store.History(ctx, args[0], historyLimit)
				if err != nil {
					return err
				}
				if len(snaps) == 0 {
					return fmt.Errorf("%w for %q", progress.ErrNotFound, args[0])
				}
				printHistory(os.Stdout, snaps)
				return nil
			})
		},
	}

	pruneCmd = &cobra.Command{
		Use:   "prune BOOK_ID",
		Short: "Delete old snapshots of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pruneKeep < 1 {
				return fmt.Errorf("--keep must be at least 1, got %d", pruneKeep)
			}
			return withStore(cmd, func(ctx context.Context, store *progress.SQLiteStore) error {
				n, err := store.Prune(ctx, args[0], pruneKeep)
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %s snapshots of %s\n", humanize.Comma(n), args[0])
				return nil
			})
		},
	}
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of snapshots to show")
	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 50, "number of newest snapshots to keep")
	progressCmd.AddCommand(historyCmd, pruneCmd)
}

func withStore(cmd *cobra.Command, fn func(context.Context, *progress.SQLiteStore) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openProgressStore()
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	return fn(ctx, store)
}

func printBooks(w io.Writer, books []progress.BookSummary) {
	for _, b := range books {
		fmt.Fprintf(w, "%s  %s at %sx, %s (%s, %d snapshots)\n",
			keyword(b.BookID),
			formatMs(b.PositionMs),
			humanize.FtoaWithDigits(b.Speed, 2),
			b.Event,
			humanize.Time(b.UpdatedAt),
			b.Snapshots,
		)
	}
}

func printHistory(w io.Writer, snaps []progress.Snapshot) {
	for _, s := range snaps {
		fmt.Fprintf(w, "%-16s %-8s %s / %s  %sx  session %.8s\n",
			humanize.Time(s.At),
			s.Event,
			formatMs(s.PositionMs),
			formatMs(s.DurationMs),
			humanize.FtoaWithDigits(s.Speed, 2),
			s.SessionID,
		)
	}
}
