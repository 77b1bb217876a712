package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/store"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect reconciled provider records",
}

var providersShowCmd = &cobra.Command{
	Use:   "show <provider-id>",
	Short: "Show a provider record and its open review entries as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetProvider(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get provider %s", args[0])
		}
		if rec == nil {
			return eris.Errorf("provider %s has not been validated", args[0])
		}

		reviews, err := st.ListReviewQueue(ctx, store.ReviewFilter{ProviderID: args[0], OpenOnly: true})
		if err != nil {
			return eris.Wrapf(err, "list reviews for %s", args[0])
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(providerView{ProviderRecord: rec, OpenReviews: reviews})
	},
}

type providerView struct {
	*model.ProviderRecord
	OpenReviews []model.ReviewQueueEntry `json:"open_reviews"`
}

func init() {
	providersCmd.AddCommand(providersShowCmd)
	rootCmd.AddCommand(providersCmd)
}
