package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openvault/cartonbox/internal/catalog"
	"github.com/openvault/cartonbox/internal/pack"
	"github.com/openvault/cartonbox/internal/sync"
)

func newExportCmd() *cobra.Command {
	var overwrite bool
	var passphrase string

	cmd := &cobra.Command{
		Use:   "export <package-file>",
		Short: "Export the catalog and its content into a portable package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, store, _, err := openVault()
			if err != nil {
				return err
			}
			defer store.Close()

			exporter := pack.NewExporter(store, root, catalog.SystemClock{})
			result, err := exporter.Export(cmd.Context(), pack.ExportOptions{
				Dest:         args[0],
				Overwrite:    overwrite,
				Passphrase:   passphrase,
				SafetyMargin: viper.GetFloat64("export_safety_margin"),
			})
			if err != nil {
				return err
			}
			return printResult(string(result.Status), result.Message)
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite an existing package file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "encrypt the package with this passphrase")
	return cmd
}

func newImportCmd() *cobra.Command {
	var passphrase, strategy string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import <package-file>",
		Short: "Import a package into the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, store, _, err := openVault()
			if err != nil {
				return err
			}
			defer store.Close()

			gate := sync.NewGate()
			importer := pack.NewImporter(store, root, catalog.SystemClock{}, gate)

			plan, err := importer.Validate(cmd.Context(), args[0], passphrase)
			if err != nil {
				return err
			}
			defer plan.Close()

			for _, issue := range plan.Issues {
				fmt.Printf("  issue: %s %s\n", issue.RelPath, issue.Message)
			}
			if dryRun {
				for _, item := range plan.Items {
					fmt.Printf("  %-18s %s\n", item.Status, item.RelPath)
				}
				return nil
			}

			if strategy == "" {
				strategy = viper.GetString("import_strategy")
			}
			result, err := importer.Commit(cmd.Context(), plan, pack.ParseStrategy(strategy))
			if err != nil {
				return err
			}
			return printResult(string(result.Status), result.Message)
		},
	}
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "decrypt the package with this passphrase")
	cmd.Flags().StringVar(&strategy, "strategy", "", "conflict strategy: reject, update-if-newer, always-overwrite, create-duplicate")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify only, do not commit")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var verifyHash bool

	cmd := &cobra.Command{
		Use:   "migrate <new-root>",
		Short: "Relocate the vault to a new root directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, store, roots, err := openVault()
			if err != nil {
				return err
			}
			defer store.Close()

			gate := sync.NewGate()
			migrator := pack.NewMigrator(store, roots, root, gate)
			result, err := migrator.Migrate(cmd.Context(), pack.MigrateOptions{
				NewRoot:      args[0],
				VerifyHash:   verifyHash,
				SafetyMargin: viper.GetFloat64("export_safety_margin"),
			})
			if err != nil {
				return err
			}
			return printResult(string(result.Status), result.Message)
		},
	}
	cmd.Flags().BoolVar(&verifyHash, "verify-hash", false, "rehash every copied file during verification")
	return cmd
}

func printResult(status, message string) error {
	if status == string(pack.StatusSuccess) || status == string(pack.StatusPartialSuccess) {
		fmt.Printf("%s %s: %s\n", green("✓"), status, message)
		return nil
	}
	return fmt.Errorf("%s: %s", status, message)
}
