package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anguspalmer/servicenow/internal/descriptoryaml"
)

func newGetTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-table <name>",
		Short: "Print a table's flattened descriptor as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGetTable(args[0])
		},
	}
	return cmd
}

func runGetTable(name string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	tbl, err := client.GetTable(context.Background(), name)
	if err != nil {
		return fmt.Errorf("get table %q: %w", name, err)
	}
	out, err := descriptoryaml.Encode(tbl)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
