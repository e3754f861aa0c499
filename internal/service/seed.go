package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/docstore"
)

// SeedDocuments 种子数据：文档路径 -> 文档内容
type SeedDocuments map[string]map[string]any

// LoadSeed 读取 JSON 种子文件（数值保留为 json.Number）
func LoadSeed(r io.Reader) (SeedDocuments, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var docs SeedDocuments
	if err := dec.Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}
	for path := range docs {
		if err := docstore.ValidateDocumentPath(path); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// ApplySeed 按路径顺序写入种子数据（父文档先于子文档）
func ApplySeed(ctx context.Context, w docstore.Writer, docs SeedDocuments, logger *zap.Logger) error {
	paths := make([]string, 0, len(docs))
	for path := range docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := w.Put(ctx, path, docs[path]); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	logger.Info("Seed documents written", zap.Int("count", len(paths)))
	return nil
}
