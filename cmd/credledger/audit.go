package credledger

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liftedinit/credledger/internal/auditor"
	"github.com/liftedinit/credledger/internal/config"
)

var AuditCmd = &cobra.Command{
	Use:   "audit",
	Args:  cobra.NoArgs,
	Short: "Verify the hash chain of every subject",
	Long:  `Verify the hash chain of every subject in the block store. Exits with an error when any chain is broken.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		auditConfig := config.LoadAuditConfigFromCLI()
		if err := auditConfig.Validate(); err != nil {
			return fmt.Errorf("invalid Audit configuration: %w", err)
		}
		storeConfig, err := loadStoreConfig()
		if err != nil {
			return err
		}

		store, _, err := openStore(cmd.Context(), storeConfig)
		if err != nil {
			return err
		}
		defer closeStore(store)

		report, err := auditor.Audit(cmd.Context(), store, auditConfig, viper.GetBool("progress"))
		if err != nil {
			return errors.WithMessage(err, "audit failed")
		}

		out, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to marshal audit report: %w", err)
		}
		fmt.Println(string(out))

		if !report.Valid() {
			return fmt.Errorf("%w: %d of %d subjects", auditor.ErrBrokenChain, len(report.Broken), report.Subjects)
		}
		slog.Info("All block chains verified", "subjects", report.Subjects, "blocks", report.Blocks)
		return nil
	},
}

func init() {
	AuditCmd.Flags().UintP("max-concurrency", "c", 100, "Maximum number of subjects verified concurrently (advanced)")
	AuditCmd.Flags().Bool("fail-fast", false, "Stop at the first broken chain")
	AuditCmd.Flags().Bool("progress", true, "Display a progress bar")

	if err := viper.BindPFlags(AuditCmd.Flags()); err != nil {
		slog.Error("Failed to bind AuditCmd flags", "error", err)
	}
}
