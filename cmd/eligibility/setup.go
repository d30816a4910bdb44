package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trial-eligibility-mcp-server/internal/setup"
)

func newSetupCmd() *cobra.Command {
	var clientConfig string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop MCP client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if clientConfig != "" {
				return nil
			}
			path, err := setup.DefaultClientConfigPath()
			if err != nil {
				return err
			}
			clientConfig = path
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&clientConfig, "client-config", "", "Client configuration file (default: OS-specific location)")

	var reg setup.Registration
	register := &cobra.Command{
		Use:   "register",
		Short: "Add or update the server entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := setup.Register(clientConfig, reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s -> %s in %s\n", setup.ServerName, entry.Command, clientConfig)
			return nil
		},
	}
	register.Flags().StringVar(&reg.BinaryPath, "binary", "", "Path to the mcp-server binary (default: search PATH)")
	register.Flags().StringVar(&reg.DataDir, "data-dir", "", "Data directory for history and exports")
	register.Flags().StringVar(&reg.RulesFile, "rules-file", "", "Rule definitions YAML")
	register.Flags().StringVar(&reg.OntologyFile, "ontology-file", "", "Static ontology YAML")
	register.Flags().StringVar(&reg.ReferenceDate, "reference-date", "", "Fixed reference date (YYYY-MM-DD)")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the server is registered and usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := setup.Inspect(clientConfig)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the server entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := setup.Unregister(clientConfig)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), "Server was not registered")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", setup.ServerName, clientConfig)
			return nil
		},
	}

	cmd.AddCommand(register, status, remove)
	return cmd
}
