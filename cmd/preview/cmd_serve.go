package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"livepreview/internal/server"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	serveAddr   string
	serveOpen   bool
	serveMemory bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the live preview and rebuild on every change",
	Long: `Watches the workspace, rebuilds on every change and serves the shell page
with the sandboxed preview frame. With sandbox.enabled the document is also
mounted in a headless Chrome so load and runtime failures are captured even
when no browser is looking at the page.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "Open the preview in the default browser")
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "Load the workspace once and accept file actions on POST /api/files instead of watching disk")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, sessionOptions{withHost: true, withHistory: true, memory: serveMemory})
	if err != nil {
		return err
	}
	defer sess.Close()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	srv, err := newServer(sess, addr)
	if err != nil {
		return err
	}

	url := "http://" + addr
	if sess.mem != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "In-memory project: POST file actions to %s/api/files\n", url)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Previewing %s at %s\n", workspaceDir(), url)
	if serveOpen || cfg.Server.OpenBrowser {
		launcher.Open(url)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.ctrl.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete", zap.Uint64("generation", sess.ctrl.Status().Generation))
	return nil
}

// newServer wires the HTTP surface for sess. In memory mode the in-memory
// project receives POST /api/files.
func newServer(sess *session, addr string) (*server.Server, error) {
	return server.New(server.Options{
		Addr:          addr,
		Controller:    sess.ctrl,
		Project:       sess.mem,
		History:       sess.history,
		StandaloneDir: inWorkspace(cfg.Server.StandaloneDir),
	})
}
