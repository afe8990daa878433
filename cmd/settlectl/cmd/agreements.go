package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

var agreementsCmd = &cobra.Command{
	Use:   "agreements",
	Short: "Agreement lifecycle management",
	Long:  "Create, inspect, and cancel settlement agreements",
}

var agreementsGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get agreement settlement state",
	Long:  "Retrieve an agreement with its status and any failed reward IDs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp models.AgreementStatusResponse
		if err := doJSON("GET", "/api/v1/agreements/"+args[0], nil, &resp); err != nil {
			return fmt.Errorf("failed to get agreement: %w", err)
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return printJSON(resp)
		}

		a := resp.Agreement
		fmt.Printf("Agreement: %s\n", a.ID)
		fmt.Printf("Kind:      %s\n", a.Kind)
		fmt.Printf("Status:    %s\n", a.Status)
		fmt.Printf("Buyer:     %s\n", a.BuyerAccount)
		fmt.Printf("Committed: %.2f\n", a.CommittedAmount)
		fmt.Printf("Released:  %.2f\n", a.ReleasedAmount)
		if a.EscrowHandle != nil {
			fmt.Printf("Escrow:    %s\n", *a.EscrowHandle)
		}
		if a.RightsTokenID != nil {
			fmt.Printf("Token:     %s\n", *a.RightsTokenID)
		}
		if len(resp.FailedRewards) > 0 {
			fmt.Printf("Failed rewards (%d):\n", len(resp.FailedRewards))
			for _, id := range resp.FailedRewards {
				fmt.Printf("  %s\n", id)
			}
		}
		return nil
	},
}

var agreementsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an agreement",
	Long:  "Create an agreement from a JSON terms file and request its escrow",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		var a models.Agreement
		if err := readJSONFile(file, &a); err != nil {
			return err
		}

		var created models.Agreement
		if err := doJSON("POST", "/api/v1/agreements", &a, &created); err != nil {
			return fmt.Errorf("failed to create agreement: %w", err)
		}

		fmt.Printf("Created agreement %s (%s)\n", created.ID, created.Status)
		if created.EscrowHandle != nil {
			fmt.Printf("Escrow requested: %s\n", *created.EscrowHandle)
		}
		return nil
	},
}

var agreementsCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel an agreement",
	Long:  "Cancel a non-terminal agreement, refunding the escrow when nothing was released",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doJSON("POST", "/api/v1/agreements/"+args[0]+"/cancel", nil, nil); err != nil {
			return fmt.Errorf("failed to cancel agreement: %w", err)
		}
		fmt.Printf("Agreement %s cancelled\n", args[0])
		return nil
	},
}

func init() {
	agreementsGetCmd.Flags().Bool("json", false, "print the raw JSON response")
	agreementsCreateCmd.Flags().StringP("file", "f", "", "path to agreement terms JSON")

	agreementsCmd.AddCommand(agreementsGetCmd)
	agreementsCmd.AddCommand(agreementsCreateCmd)
	agreementsCmd.AddCommand(agreementsCancelCmd)
	rootCmd.AddCommand(agreementsCmd)
}
