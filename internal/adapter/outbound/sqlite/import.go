package sqlite

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
)

// importedSuffix marks shards that have already been loaded.
const importedSuffix = ".imported"

// importJSONLShards loads historical JSONL capture shards sitting in the
// storage directory into the database, then renames each shard so it is
// not loaded twice. Runs under the storage lock at Open time.
func (s *Store) importJSONLShards() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read storage dir: %w", err)
	}

	var shards []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".jsonl") {
			shards = append(shards, entry.Name())
		}
	}
	sort.Strings(shards)

	for _, name := range shards {
		path := filepath.Join(s.dir, name)
		imported, skipped, err := s.importShard(path)
		if err != nil {
			return fmt.Errorf("import %s: %w", name, err)
		}
		if err := os.Rename(path, path+importedSuffix); err != nil {
			return fmt.Errorf("mark %s imported: %w", name, err)
		}
		s.logger.Info("imported jsonl shard",
			"file", name,
			"records", imported,
			"skipped", skipped)
	}
	return nil
}

// importShard writes each line of one shard as a capture record. Lines
// that do not parse are counted and skipped; database errors abort the
// shard so it is retried on the next start.
func (s *Store) importShard(path string) (imported, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	ctx := context.Background()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec capture.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped++
			continue
		}
		if !rec.Direction.IsValid() {
			skipped++
			continue
		}
		if err := s.Write(ctx, &rec); err != nil {
			return imported, skipped, err
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, skipped, err
	}
	return imported, skipped, nil
}
