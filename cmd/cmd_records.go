package main

import (
	"encoding/json"

	"askgpt-backend/internal/utils"

	"github.com/spf13/cobra"
)

var (
	recordsLimit string

	recordsCmd = &cobra.Command{
		Use:   "records [conversation-id]",
		Short: "Print the records of a conversation, or list conversations",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRecords,
	}
)

func init() {
	recordsCmd.Flags().StringVar(&recordsLimit, "limit", "", "only the newest N records")
}

func runRecords(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if len(args) == 0 {
		conversations, err := a.chat.Conversations()
		if err != nil {
			return err
		}
		return enc.Encode(conversations)
	}

	records, err := a.chat.Records(args[0], utils.ParseNumber(recordsLimit))
	if err != nil {
		return err
	}
	return enc.Encode(records)
}
