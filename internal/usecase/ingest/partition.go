package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tg-med-warehouse/internal/domain"
)

// PartitionRoot is the lake subtree holding the date-partitioned message dumps.
func PartitionRoot(dataDir string) string {
	return filepath.Join(dataDir, "raw", "telegram_messages")
}

// PartitionPath builds <dataDir>/raw/telegram_messages/<YYYY-MM-DD>/<channel>.json.
func PartitionPath(dataDir string, date time.Time, channel string) string {
	return filepath.Join(PartitionRoot(dataDir), date.Format("2006-01-02"), channel+".json")
}

// WritePartition dumps one channel's messages into its date partition,
// replacing any previous dump for the same channel and date.
func WritePartition(dataDir string, date time.Time, channel string, messages []domain.RawMessage) (string, error) {
	path := PartitionPath(dataDir, date, channel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create partition dir: %w", err)
	}
	body, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode partition: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write partition: %w", err)
	}
	return path, nil
}
