package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/database"
)

var (
	exportUserID string
	exportFile   string
	exportRemote bool
)

func init() {
	exportCmd.Flags().StringVar(&exportUserID, "user-id", "", "identity to export, e.g. auth_user_1")
	exportCmd.Flags().StringVar(&exportFile, "file", "", "output file (default export_<user-id>_<timestamp>.json)")
	exportCmd.Flags().BoolVar(&exportRemote, "remote", false, "upload the export to MinIO")
	_ = exportCmd.MarkFlagRequired("user-id")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one identity's conversations as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close(db)

		export, err := repository.NewConversationRepository(db).ExportIdentity(cmd.Context(), exportUserID)
		if repository.IsNotFound(err) {
			return fmt.Errorf("identity %s not found", exportUserID)
		}
		if err != nil {
			return err
		}

		dest := exportFile
		if dest == "" {
			dest = fmt.Sprintf("export_%s_%s.json", exportUserID, time.Now().Format("20060102_150405"))
		}
		if err := writeExport(dest, export); err != nil {
			return err
		}
		messages := 0
		for _, c := range export.Conversations {
			messages += len(c.Messages)
		}
		fmt.Printf("Exported %s conversations and %s messages to %s\n",
			humanize.Comma(int64(len(export.Conversations))), humanize.Comma(int64(messages)), dest)

		if exportRemote {
			return uploadFile(cmd.Context(), "exports/"+filepath.Base(dest), dest, "application/json")
		}
		return nil
	},
}

func writeExport(path string, export *model.IdentityExport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(export); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
