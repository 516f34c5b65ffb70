package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

var (
	enrichAffiliateID int64
	enrichDomain      string
	enrichPerson      string
	enrichLinkedIn    string
	enrichProvider    string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Look up a contact email for one affiliate through the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.EnrichEmail(cmd.Context(), dashapi.EnrichRequest{
			AffiliateID: enrichAffiliateID,
			Domain:      enrichDomain,
			PersonName:  enrichPerson,
			LinkedInURL: enrichLinkedIn,
			Provider:    enrichProvider,
		})
		if err != nil {
			if dashapi.IsInsufficientCredit(err) {
				return eris.Wrap(err, "not enough email lookup credits")
			}
			return eris.Wrap(err, "enrich email")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	enrichCmd.Flags().Int64Var(&enrichAffiliateID, "affiliate-id", 0, "affiliate to enrich (required)")
	enrichCmd.Flags().StringVar(&enrichDomain, "domain", "", "domain or URL to search (required)")
	enrichCmd.Flags().StringVar(&enrichPerson, "person", "", "person name to match")
	enrichCmd.Flags().StringVar(&enrichLinkedIn, "linkedin", "", "LinkedIn profile URL")
	enrichCmd.Flags().StringVar(&enrichProvider, "provider", "", "use only this provider (no fallback)")
	_ = enrichCmd.MarkFlagRequired("affiliate-id")
	_ = enrichCmd.MarkFlagRequired("domain")
	rootCmd.AddCommand(enrichCmd)
}
