package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/database"
)

const activeWindow = 7 * 24 * time.Hour

func init() {
	statsCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close(db)

		stats, err := repository.NewConversationRepository(db).Stats(cmd.Context(), time.Now().UTC().Add(-activeWindow))
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		fmt.Println("Database statistics")
		fmt.Println("===================")
		fmt.Printf("  Users:               %s\n", humanize.Comma(stats.Users))
		fmt.Printf("  Conversations:       %s\n", humanize.Comma(stats.Conversations))
		fmt.Printf("  Messages:            %s\n", humanize.Comma(stats.Messages))
		fmt.Printf("  Active users (7d):   %s\n", humanize.Comma(stats.ActiveUsers))
		if isSQLite() {
			if info, err := os.Stat(config.Conf.Database.DSN); err == nil {
				fmt.Printf("  Database size:       %s\n", humanize.Bytes(uint64(info.Size())))
			}
		}
		return nil
	},
}
