package rawload

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"tg-med-warehouse/internal/domain"
	"tg-med-warehouse/internal/usecase/ingest"
)

// Service loads every lake partition into the warehouse in one
// destructive batch. Re-running it against an unchanged lake produces
// an identical table.
type Service struct {
	dataDir string
	repo    domain.RawMessageRepo
	log     zerolog.Logger
}

// NewService builds the raw loader over the given lake root.
func NewService(dataDir string, repo domain.RawMessageRepo, log zerolog.Logger) *Service {
	return &Service{dataDir: dataDir, repo: repo, log: log}
}

// Report describes one load run.
type Report struct {
	FilesRead   int
	RowsLoaded  int64
	RowsSkipped int
	PerChannel  map[string]int
}

// Run reads all date partitions under the lake root and replaces the
// raw messages table with their combined content.
func (s *Service) Run(ctx context.Context) (Report, error) {
	report := Report{PerChannel: map[string]int{}}

	files, err := s.listPartitions()
	if err != nil {
		return report, fmt.Errorf("list partitions: %w", err)
	}
	if len(files) == 0 {
		s.log.Warn().Str("root", ingest.PartitionRoot(s.dataDir)).Msg("rawload: no partitions found")
		return report, nil
	}

	var batch []domain.RawMessage
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		messages, skipped, err := s.readPartition(file)
		if err != nil {
			return report, fmt.Errorf("read partition %s: %w", file, err)
		}
		report.FilesRead++
		report.RowsSkipped += skipped
		for _, msg := range messages {
			report.PerChannel[msg.ChannelName]++
		}
		batch = append(batch, messages...)
	}

	loaded, err := s.repo.ReplaceRawMessages(ctx, batch)
	if err != nil {
		return report, fmt.Errorf("replace raw messages: %w", err)
	}
	report.RowsLoaded = loaded

	s.log.Info().
		Int("files", report.FilesRead).
		Int64("rows", report.RowsLoaded).
		Int("skipped", report.RowsSkipped).
		Msg("rawload: warehouse table replaced")
	return report, nil
}

// listPartitions returns every <date>/<channel>.json under the lake
// root in deterministic order.
func (s *Service) listPartitions() ([]string, error) {
	root := ingest.PartitionRoot(s.dataDir)
	dates, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, date := range dates {
		if !date.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, date.Name()))
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			files = append(files, filepath.Join(root, date.Name(), entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// readPartition decodes one partition row by row so a single malformed
// record is skipped with a warning instead of discarding the file.
func (s *Service) readPartition(path string) ([]domain.RawMessage, int, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, 0, fmt.Errorf("decode partition: %w", err)
	}

	channel := strings.TrimSuffix(filepath.Base(path), ".json")
	sourceFile := filepath.Base(path)

	messages := make([]domain.RawMessage, 0, len(rows))
	skipped := 0
	for i, row := range rows {
		var msg domain.RawMessage
		if err := json.Unmarshal(row, &msg); err != nil {
			skipped++
			s.log.Warn().Err(err).Str("file", path).Int("row", i).Msg("rawload: skipping malformed row")
			continue
		}
		if msg.ChannelName == "" {
			msg.ChannelName = channel
		}
		msg.SourceFile = sourceFile
		messages = append(messages, msg)
	}
	return messages, skipped, nil
}
