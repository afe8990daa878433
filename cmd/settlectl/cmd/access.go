package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Rights-token access checks",
}

var accessCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate an access request",
	Long:  "Ask the access gate whether a token holder may read a resource",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		requester, _ := cmd.Flags().GetString("requester")
		resource, _ := cmd.Flags().GetString("resource")
		kind, _ := cmd.Flags().GetString("kind")
		fresh, _ := cmd.Flags().GetBool("fresh")

		if token == "" || requester == "" {
			return fmt.Errorf("--token and --requester are required")
		}

		req := models.AuthorizeRequest{
			TokenID:    token,
			Requester:  requester,
			ResourceID: resource,
			Kind:       models.RecordKind(kind),
			Fresh:      fresh,
		}

		var decision models.Decision
		if err := doJSON("POST", "/api/v1/access/authorize", &req, &decision); err != nil {
			return fmt.Errorf("access check failed: %w", err)
		}

		if decision.Allowed {
			fmt.Println("ALLOWED")
			if decision.Grant != nil {
				fmt.Printf("Grant:   %s\n", decision.Grant.ID)
				fmt.Printf("Expires: %s\n", decision.Grant.NotAfter.Format("2006-01-02 15:04:05"))
			}
			return nil
		}

		fmt.Printf("DENIED (%s)\n", decision.Reason)
		return nil
	},
}

func init() {
	accessCheckCmd.Flags().String("token", "", "rights token ID")
	accessCheckCmd.Flags().String("requester", "", "requesting account")
	accessCheckCmd.Flags().String("resource", "", "resource (data owner) scope")
	accessCheckCmd.Flags().String("kind", "", "record kind to read")
	accessCheckCmd.Flags().Bool("fresh", false, "bypass the ownership cache")
	accessCmd.AddCommand(accessCheckCmd)
	rootCmd.AddCommand(accessCmd)
}
