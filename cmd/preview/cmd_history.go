package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"livepreview/internal/store"

	"github.com/spf13/cobra"
)

var (
	historyLimit    int
	historyFailures uint64
	historyPrune    int
	historySession  string
	historyJSON     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded generations and runtime failures",
	Example: `  preview history --limit 20
  preview history --failures 12
  preview history --prune 100`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of generations to show")
	historyCmd.Flags().Uint64Var(&historyFailures, "failures", 0, "Show runtime failures recorded for this generation")
	historyCmd.Flags().StringVar(&historySession, "session", "", "Session for --failures (default: most recent)")
	historyCmd.Flags().IntVar(&historyPrune, "prune", 0, "Keep only the newest N generations")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), oneShotTimeout())
	defer cancel()

	if !cfg.History.Enabled {
		return errors.New("history is disabled (history.enabled: false)")
	}
	h, err := store.Open(inWorkspace(cfg.History.Path))
	if err != nil {
		return err
	}
	defer h.Close()

	out := cmd.OutOrStdout()
	st := defaultStyles()

	if historyPrune > 0 {
		n, err := h.Prune(ctx, historyPrune)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Pruned %d generation(s)\n", n)
		return nil
	}

	if historyFailures > 0 {
		session := historySession
		if session == "" {
			// Open starts a fresh session; the newest recorded one is what
			// the user means.
			recent, err := h.Recent(ctx, 1)
			if err != nil {
				return err
			}
			if len(recent) == 0 {
				fmt.Fprintln(out, "No generations recorded")
				return nil
			}
			session = recent[0].Session
		}
		failures, err := h.Failures(ctx, session, historyFailures)
		if err != nil {
			return err
		}
		if historyJSON {
			return json.NewEncoder(out).Encode(failures)
		}
		if len(failures) == 0 {
			fmt.Fprintf(out, "No failures recorded for generation %d\n", historyFailures)
			return nil
		}
		for _, f := range failures {
			fmt.Fprintln(out, renderFailure(st, f))
		}
		return nil
	}

	gens, err := h.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	if historyJSON {
		return json.NewEncoder(out).Encode(gens)
	}
	if len(gens) == 0 {
		fmt.Fprintln(out, "No generations recorded")
		return nil
	}
	for _, g := range gens {
		fmt.Fprintln(out, renderGeneration(st, g))
	}
	stats, err := h.Stats(ctx)
	if err == nil {
		fmt.Fprintln(out, st.Muted.Render(fmt.Sprintf("%d generations, %d runtime failures", stats["generations"], stats["runtime_failures"])))
	}
	return nil
}
