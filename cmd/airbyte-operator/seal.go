package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/airbyte-operator/pkg/security"
	"github.com/cuemby/airbyte-operator/pkg/storage"
	"github.com/spf13/cobra"
)

var sealStateCmd = &cobra.Command{
	Use:   "seal-state",
	Short: "Seal plain credentials already stored in the data directory",
	Long: `Seal credentials that were persisted before a state key was configured.

A backup of the database is written first unless --dry-run is given. The
operator must not be running: the database is opened exclusively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		keyFile, _ := cmd.Flags().GetString("state-key-file")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetString("backup")

		dbPath := filepath.Join(dataDir, storage.DBFile)
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("database not found at %s: %w", dbPath, err)
		}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		persist, err := sealStore(store, keyFile)
		if err != nil {
			return err
		}
		sealed, ok := persist.(*security.SealedStore)
		if !ok {
			return errors.New("no state key configured")
		}

		if !dryRun {
			if backup == "" {
				backup = dbPath + ".backup"
			}
			if err := store.Backup(backup); err != nil {
				return fmt.Errorf("failed to create backup: %w", err)
			}
			fmt.Printf("✓ Backup written to %s\n", backup)
		}

		report, err := security.SealAll(store, sealed.Sealer(), dryRun)
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Printf("Would seal %d fact(s) and %d applied state(s)\n", report.Facts, report.Applied)
			return nil
		}
		fmt.Printf("✓ Sealed %d fact(s) and %d applied state(s)\n", report.Facts, report.Applied)
		return nil
	},
}

func init() {
	sealStateCmd.Flags().String("data-dir", "/var/lib/airbyte-operator/data", "Directory for operator state")
	sealStateCmd.Flags().String("state-key-file", "", "File holding the passphrase (or set "+stateKeyEnv+")")
	sealStateCmd.Flags().Bool("dry-run", false, "Report what would be sealed without changing anything")
	sealStateCmd.Flags().String("backup", "", "Backup path (default: <data-dir>/"+storage.DBFile+".backup)")
}
