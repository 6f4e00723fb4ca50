package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"livepreview/internal/document"
	"livepreview/internal/pipeline"
	"livepreview/internal/sandbox"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errBuildFailed makes the process exit non-zero after the report was printed.
var errBuildFailed = errors.New("preview build failed")

var (
	buildOut     string
	checkSandbox bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the preview document once and write it to disk",
	RunE:  runBuild,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Build once and report resolution, compile and (optionally) runtime problems",
	Long: `Runs one generation and prints every unresolved local import, skipped
external and the error report, if any. With --sandbox the document is mounted
in headless Chrome and load or runtime failures are reported too.`,
	RunE: runCheck,
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Build once, export a standalone page and open it in the default browser",
	RunE:  runOpen,
}

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "", "Output file (default: <standalone_dir>/<generation>.html)")
	checkCmd.Flags().BoolVar(&checkSandbox, "sandbox", false, "Mount the document in headless Chrome")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout())
	defer cancel()

	res, err := buildOnce(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printResult(out, res)
	if !res.OK() {
		return errBuildFailed
	}

	path, err := writeDocument(*res.Document, buildOut)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s (%d bytes, hash %s)\n", path, res.Document.Bytes, res.Document.Hash)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout())
	defer cancel()

	res, err := buildOnce(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printResult(out, res)
	if !res.OK() {
		return errBuildFailed
	}

	problems := len(res.Unresolved)
	if checkSandbox {
		failures, err := mountAndCollect(ctx, *res.Document)
		if err != nil {
			return err
		}
		for _, f := range failures {
			fmt.Fprintf(out, "  %s\n", f)
			if f.Detail != "" {
				fmt.Fprintf(out, "    %s\n", f.Detail)
			}
		}
		problems += len(failures)
	}
	if problems > 0 {
		fmt.Fprintf(out, "%d problem(s)\n", problems)
		return errBuildFailed
	}
	fmt.Fprintln(out, "OK")
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout())
	defer cancel()

	res, err := buildOnce(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !res.OK() {
		printResult(out, res)
		return errBuildFailed
	}
	path, err := writeDocument(*res.Document, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Opening %s\n", path)
	launcher.Open("file://" + filepath.ToSlash(path))
	return nil
}

// writeDocument writes doc to out, or to the standalone directory.
func writeDocument(doc document.PreviewDocument, out string) (string, error) {
	if out == "" {
		return document.WriteStandalone(doc, inWorkspace(cfg.Server.StandaloneDir))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(out, []byte(doc.HTML), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", out, err)
	}
	return out, nil
}

// mountAndCollect loads doc in a throwaway Chrome host and returns what the
// harness captured.
func mountAndCollect(ctx context.Context, doc document.PreviewDocument) ([]sandbox.Failure, error) {
	var failures []sandbox.Failure
	collected := make(chan sandbox.Failure, 64)
	host := sandbox.NewChromeHost(cfg.Sandbox.Chrome, func(f sandbox.Failure) {
		select {
		case collected <- f:
		default:
		}
	})
	defer func() {
		if err := host.Close(context.Background()); err != nil {
			logger.Warn("failed to close chrome", zap.Error(err))
		}
	}()

	if err := host.Mount(ctx, doc); err != nil {
		return nil, fmt.Errorf("sandbox mount failed: %w", err)
	}
	if !host.Mounted() {
		logger.Debug("document did not signal mount", zap.Uint64("generation", doc.Generation))
	}
	for {
		select {
		case f := <-collected:
			failures = append(failures, f)
		default:
			return failures, nil
		}
	}
}

// printResult writes a human-readable summary of res.
func printResult(w io.Writer, res pipeline.Result) {
	if res.Report != nil {
		fmt.Fprintf(w, "%s error (%s)\n", res.Report.Phase, res.Report.Kind)
		fmt.Fprintf(w, "  %s\n", res.Report.Message)
		if res.Report.Detail != "" {
			fmt.Fprintf(w, "  %s\n", res.Report.Detail)
		}
		return
	}
	kind := "placeholder"
	if res.Document != nil && !res.Document.Placeholder {
		kind = fmt.Sprintf("%s entry %s", res.Plan.Kind, res.Plan.Path)
	}
	fmt.Fprintf(w, "Built %d files, %d stylesheets in %v (%s)\n", res.Files, res.Styles, res.Duration.Round(time.Millisecond), kind)
	for _, u := range res.Unresolved {
		fmt.Fprintf(w, "  unresolved: %s imports %q\n", u.FromPath, u.Raw)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  shadowed external: %s\n", s)
	}
}
