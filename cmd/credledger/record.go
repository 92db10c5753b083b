package credledger

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liftedinit/credledger/internal/config"
	"github.com/liftedinit/credledger/internal/hashing"
	"github.com/liftedinit/credledger/internal/ledger"
)

var RecordCmd = &cobra.Command{
	Use:   "record [collection] [collectionId]",
	Args:  cobra.ExactArgs(2),
	Short: "Record a new state of a subject as a block",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := subjectFromArgs(args)
		if err != nil {
			return err
		}
		recordConfig := config.LoadRecordConfigFromCLI()
		if err := recordConfig.Validate(); err != nil {
			return fmt.Errorf("invalid Record configuration: %w", err)
		}
		storeConfig, err := loadStoreConfig()
		if err != nil {
			return err
		}

		signer, err := hashing.NewSigner(recordConfig.Secret)
		if err != nil {
			return err
		}

		store, _, err := openStore(cmd.Context(), storeConfig)
		if err != nil {
			return err
		}
		defer closeStore(store)

		builder := ledger.NewBuilder(store, uint64(storeConfig.MaxRetries))
		block, err := ledger.NewRecorder(store, builder, signer).Record(cmd.Context(), subject, recordConfig.UserID)
		if err != nil {
			return errors.WithMessagef(err, "failed to record %s", subject)
		}
		slog.Info("Block recorded", "index", block.Index, "subject", subject.String())

		out, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("failed to marshal block: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	RecordCmd.Flags().StringP("user", "u", "", "Id of the user performing the mutation")

	if err := viper.BindPFlags(RecordCmd.Flags()); err != nil {
		slog.Error("Failed to bind RecordCmd flags", "error", err)
	}
}
