package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"livepreview/internal/rebuild"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var watchSandbox bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild on every change and print one status line per generation",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchSandbox, "sandbox", false, "Mount every document in headless Chrome and print runtime failures")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watchSandbox {
		cfg.Sandbox.Enabled = true
	}
	sess, err := openSession(ctx, sessionOptions{withHost: true, withHistory: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	events, cancel := sess.ctrl.Subscribe(64)
	defer cancel()

	out := cmd.OutOrStdout()
	st := defaultStyles()
	fmt.Fprintf(out, "Watching %s\n", workspaceDir())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.ctrl.Run(gctx) })
	g.Go(func() error {
		printEvents(gctx, out, st, events)
		return nil
	})
	return g.Wait()
}

// printEvents renders settled statuses and failures until ctx is done or the
// channel closes. Generating transitions are skipped to keep one line per
// generation.
func printEvents(ctx context.Context, out io.Writer, st styles, events <-chan rebuild.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case rebuild.EventStatus:
				if ev.Status == nil || ev.Status.State == rebuild.StateGenerating {
					continue
				}
				fmt.Fprintln(out, renderStatus(st, *ev.Status))
			case rebuild.EventFailure:
				if ev.Failure != nil {
					fmt.Fprintln(out, renderFailure(st, *ev.Failure))
				}
			}
		}
	}
}
