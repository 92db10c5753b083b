package credledger

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/liftedinit/credledger/internal/ledger"
)

var VerifyCmd = &cobra.Command{
	Use:   "verify [collection] [collectionId]",
	Args:  cobra.ExactArgs(2),
	Short: "Verify the hash chain of one subject",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := subjectFromArgs(args)
		if err != nil {
			return err
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

		result, err := ledger.NewVerifier(store).VerifyChain(cmd.Context(), subject)
		if err != nil {
			return errors.WithMessagef(err, "failed to verify %s", subject)
		}

		out, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal verification: %w", err)
		}
		fmt.Println(string(out))

		if !result.Valid {
			return fmt.Errorf("chain of %s is broken at index %d", subject, *result.BrokenAt)
		}
		return nil
	},
}
