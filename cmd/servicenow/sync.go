package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anguspalmer/servicenow/internal/descriptoryaml"
	"github.com/anguspalmer/servicenow/internal/plan"
)

func newSyncCmd() *cobra.Command {
	var commit bool

	cmd := &cobra.Command{
		Use:   "sync <table.yaml>",
		Short: "Plan or commit a table's shape against the desired YAML descriptor",
		Long: `Reads a table descriptor from YAML (name, label, parent, is_extendable,
columns) and diffs it against the instance. Without --commit this only
prints the pending actions; with --commit it applies them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(args[0], commit)
		},
	}

	cmd.Flags().BoolVar(&commit, "commit", false, "apply the plan instead of only printing it")

	return cmd
}

func runSync(path string, commit bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read descriptor: %w", err)
	}
	desired, err := descriptoryaml.Decode(raw)
	if err != nil {
		return err
	}

	client, err := newClient()
	if err != nil {
		return err
	}

	p, err := client.SyncTable(context.Background(), desired, commit)
	if err != nil {
		return err
	}

	printPlan(p)
	if p.HasErrors() {
		return fmt.Errorf("plan has %d error action(s); refusing to commit", len(p.Errors()))
	}
	return nil
}

func printPlan(p *plan.Plan) {
	if len(p.Actions) == 0 {
		fmt.Println("no changes")
		return
	}
	for _, a := range p.Actions {
		if a.Kind == plan.Error {
			fmt.Printf("ERROR  %-20s %s\n", a.Target, a.Reason)
			continue
		}
		fmt.Printf("%-6s %-20s\n", a.Kind, a.Target)
	}
}
