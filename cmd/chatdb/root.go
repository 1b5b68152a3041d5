package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/pkg/database"
	"ollama-chat-go/pkg/log"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatdb",
	Short: "Maintenance tool for the chat database",
	Long: `chatdb backs up, restores, inspects and cleans the chat database,
and can push backups and exports to MinIO object storage.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		config.Conf = cfg
		log.Init(cfg.Log.Level, "console", "")
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "config file path")
}

// openDB 按配置打开数据库。
func openDB() (*gorm.DB, error) {
	return database.Open(config.Conf.Database.Driver, config.Conf.Database.DSN)
}

func isSQLite() bool {
	d := strings.ToLower(config.Conf.Database.Driver)
	return d == "" || d == database.DriverSQLite
}
