package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ollama-chat-go/internal/repository"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/database"
	"ollama-chat-go/pkg/hash"
)

var (
	cleanupDays        int
	deactivateUsername string
)

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "delete identities inactive for this many days")
	deactivateCmd.Flags().StringVar(&deactivateUsername, "username", "", "account to deactivate")
	_ = deactivateCmd.MarkFlagRequired("username")
	rootCmd.AddCommand(cleanupCmd, deactivateCmd)
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete inactive identities with their conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanupDays <= 0 {
			return errors.New("--days must be positive")
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close(db)

		before := time.Now().UTC().Add(-time.Duration(cleanupDays) * 24 * time.Hour)
		n, err := repository.NewConversationRepository(db).CleanupInactive(cmd.Context(), before)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %s identities inactive since %s (%s)\n",
			humanize.Comma(n), before.Format("2006-01-02"), humanize.Time(before))
		return nil
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Soft-deactivate an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close(db)

		auth := service.NewAuthService(repository.NewCredentialRepository(db), hash.NewVerifier())
		if err := auth.Deactivate(cmd.Context(), deactivateUsername); err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				return fmt.Errorf("active user %s not found", deactivateUsername)
			}
			return err
		}
		fmt.Printf("User %s deactivated\n", deactivateUsername)
		return nil
	},
}
