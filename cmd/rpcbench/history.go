package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/rpcbench/internal/history"
	"github.com/YuminosukeSato/rpcbench/internal/stats"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded benchmark runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded results, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList,
	}
	list.Flags().Int("limit", 20, "Maximum number of entries (0 lists all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a recorded result, or every result of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}

	cmd.AddCommand(list, show)
	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.History.Path == "" {
		return nil, errors.New("no history database configured (use --history or history.path)")
	}
	cmd.SilenceUsage = true
	return history.Open(cfg.History.Path)
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := store.List(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
		return nil
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "Run", "Recorded", "Framework", "Scenario", "Req/s", "P99", "Success").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, e := range entries {
		t.Row(
			e.ID,
			e.RunID,
			e.RecordedAt.Local().Format(time.DateTime),
			e.Framework,
			e.Scenario,
			strconv.FormatFloat(e.RequestsPerSecond, 'f', 2, 64),
			stats.FormatDuration(e.P99Ns),
			strconv.FormatFloat(e.SuccessRate*100, 'f', 2, 64)+"%",
		)
	}
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	id := args[0]

	entry, err := store.Get(id)
	if err == nil {
		fmt.Fprintln(out, string(entry.Result))
		return nil
	}
	if !errors.Is(err, history.ErrRunNotFound) {
		return err
	}

	entries, err := store.Run(id)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintln(out, string(e.Result))
	}
	return nil
}
