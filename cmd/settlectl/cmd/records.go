package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalmesh-systems/vitalmesh-settlement/internal/models"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Health record submission",
}

var recordsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a health data record",
	Long:  "Submit a record from a JSON file and print its quality assessment",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		var req models.SubmitRecordRequest
		if err := readJSONFile(file, &req); err != nil {
			return err
		}

		var resp models.SubmitRecordResponse
		if err := doJSON("POST", "/api/v1/records", &req, &resp); err != nil {
			return fmt.Errorf("failed to submit record: %w", err)
		}

		fmt.Printf("Record %s accepted\n", resp.Record.ID)
		fmt.Printf("Grade:     %s\n", resp.Assessment.Grade)
		fmt.Printf("Composite: %d\n", resp.Assessment.Composite)
		return nil
	},
}

func init() {
	recordsSubmitCmd.Flags().StringP("file", "f", "", "path to record JSON")
	recordsCmd.AddCommand(recordsSubmitCmd)
	rootCmd.AddCommand(recordsCmd)
}
