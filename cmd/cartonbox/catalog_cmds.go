package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/vault"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a vault at the configured root",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, store, roots, err := openVault()
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := roots.Set(root.Dir); err != nil {
				return err
			}
			fmt.Printf("%s vault initialized at %s\n", green("✓"), cyan(root.Dir))
			return nil
		},
	}
}

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <path>...",
		Short: "Register files under the root into the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, store, _, err := openVault()
			if err != nil {
				return err
			}
			defer store.Close()

			clock := catalog.SystemClock{}
			for _, path := range args {
				entry, err := vault.Ingest(cmd.Context(), store, clock, root, path)
				if err != nil {
					return fmt.Errorf("add %s: %w", path, err)
				}
				fmt.Printf("%s %s (%s)\n", green("+"), entry.RelPath, entry.ContentHash[:12])
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog counts and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, store, _, err := openVault()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.All()
			if err != nil {
				return err
			}

			var healthy, missing int
			var totalBytes int64
			for _, entry := range entries {
				totalBytes += entry.Size
				switch entry.Health {
				case catalog.Missing:
					missing++
				default:
					healthy++
				}
			}

			version, err := store.SchemaVersion()
			if err != nil {
				return err
			}

			fmt.Printf("root:    %s\n", cyan(root.Dir))
			fmt.Printf("schema:  v%d\n", version)
			fmt.Printf("entries: %d (%d healthy, %d missing)\n", len(entries), healthy, missing)
			fmt.Printf("bytes:   %d\n", totalBytes)
			if viper.GetBool("debug") {
				for _, entry := range entries {
					fmt.Printf("  %-10s %s\n", entry.Health, entry.RelPath)
				}
			}
			return nil
		},
	}
}
