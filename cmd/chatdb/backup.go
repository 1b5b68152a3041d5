package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/pkg/database"
	"ollama-chat-go/pkg/storage"
)

const presignExpiry = 24 * time.Hour

var (
	backupFile    string
	backupRemote  bool
	restoreFile   string
	restoreRemote bool
)

func init() {
	backupCmd.Flags().StringVar(&backupFile, "file", "", "backup file (default chatbot_backup_<timestamp>.db)")
	backupCmd.Flags().BoolVar(&backupRemote, "remote", false, "upload the backup to MinIO")
	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "backup file, or object name with --remote")
	restoreCmd.Flags().BoolVar(&restoreRemote, "remote", false, "download the backup from MinIO first")
	_ = restoreCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(backupCmd, restoreCmd)
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a consistent copy of the SQLite database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isSQLite() {
			return errors.New("backup only supports the sqlite driver")
		}
		dest := backupFile
		if dest == "" {
			dest = fmt.Sprintf("chatbot_backup_%s.db", time.Now().Format("20060102_150405"))
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close(db)

		size, err := backupSQLite(cmd.Context(), db, dest)
		if err != nil {
			return err
		}
		fmt.Printf("Backup written to %s (%s)\n", dest, humanize.Bytes(uint64(size)))

		if backupRemote {
			return uploadFile(cmd.Context(), "backups/"+filepath.Base(dest), dest, "application/vnd.sqlite3")
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the SQLite database with a backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isSQLite() {
			return errors.New("restore only supports the sqlite driver")
		}
		src := restoreFile
		if restoreRemote {
			store, err := storage.InitMinIO(cmd.Context(), config.Conf.MinIO)
			if err != nil {
				return err
			}
			tmp, err := os.CreateTemp("", "chatdb-restore-*.db")
			if err != nil {
				return err
			}
			_ = tmp.Close()
			defer os.Remove(tmp.Name())
			if err := store.Download(cmd.Context(), restoreFile, tmp.Name()); err != nil {
				return err
			}
			src = tmp.Name()
		}

		previous, err := restoreSQLite(cmd.Context(), src, config.Conf.Database.DSN)
		if err != nil {
			return err
		}
		if previous != "" {
			fmt.Printf("Previous database saved to %s\n", previous)
		}
		fmt.Printf("Database restored from %s\n", restoreFile)
		return nil
	},
}

// backupSQLite 使用 VACUUM INTO 生成一致的副本，返回文件大小。
func backupSQLite(ctx context.Context, db *gorm.DB, dest string) (int64, error) {
	if _, err := os.Stat(dest); err == nil {
		return 0, fmt.Errorf("backup file %s already exists", dest)
	}
	if err := db.WithContext(ctx).Exec("VACUUM INTO ?", dest).Error; err != nil {
		return 0, fmt.Errorf("backup failed: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// restoreSQLite 校验备份后覆盖 dbPath。原数据库保存为 dbPath.before_restore，返回其路径。
func restoreSQLite(ctx context.Context, src, dbPath string) (string, error) {
	if err := verifyBackup(src); err != nil {
		return "", err
	}

	var previous string
	if _, err := os.Stat(dbPath); err == nil {
		previous = dbPath + ".before_restore"
		if err := snapshotSQLite(ctx, dbPath, previous); err != nil {
			return "", fmt.Errorf("save current database: %w", err)
		}
	}
	// WAL 中残留的页属于旧数据库
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return previous, err
		}
	}
	if err := copyFile(src, dbPath); err != nil {
		return previous, fmt.Errorf("restore failed: %w", err)
	}
	return previous, nil
}

// snapshotSQLite 通过 SQLite 连接把 dbPath 完整导出到 dest，包括仍在 WAL 中的已提交页。
func snapshotSQLite(ctx context.Context, dbPath, dest string) error {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	db, err := database.Open(database.DriverSQLite, dbPath)
	if err != nil {
		return err
	}
	defer database.Close(db)
	_, err = backupSQLite(ctx, db, dest)
	return err
}

// verifyBackup 打开备份，确认它包含聊天表。
func verifyBackup(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup file: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer database.Close(db)
	for _, table := range []string{"users_auth", "conversations", "messages"} {
		if !db.Migrator().HasTable(table) {
			return fmt.Errorf("backup is missing table %q", table)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// uploadFile 上传到 MinIO 并打印下载链接。
func uploadFile(ctx context.Context, objectName, path, contentType string) error {
	store, err := storage.InitMinIO(ctx, config.Conf.MinIO)
	if err != nil {
		return err
	}
	size, err := store.Upload(ctx, objectName, path, contentType)
	if err != nil {
		return err
	}
	url, err := store.GetPresignedURL(ctx, objectName, presignExpiry)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %s (%s)\nDownload link (valid %s): %s\n", objectName, humanize.Bytes(uint64(size)), presignExpiry, url)
	return nil
}
