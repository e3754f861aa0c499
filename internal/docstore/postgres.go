package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PostgresSchema documents 表结构
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	doc_id     TEXT NOT NULL,
	data       JSONB NOT NULL,
	version    BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection, created_at);
`

// PostgresStore 基于 PostgreSQL 的文档库（轮询 version 变化实现实时订阅）
type PostgresStore struct {
	db       *sql.DB
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

// NewPostgresStore 创建 PostgreSQL 文档库
func NewPostgresStore(db *sql.DB, logger *zap.Logger, interval time.Duration) *PostgresStore {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PostgresStore{
		db:       db,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// EnsureSchema 创建 documents 表（已存在则跳过）
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to create documents schema: %w", err)
	}
	return nil
}

// Put 写入文档（已存在则覆盖并递增 version）
func (s *PostgresStore) Put(ctx context.Context, path string, data map[string]any) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	query := `
		INSERT INTO documents (path, collection, doc_id, data, version, created_at)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (path) DO UPDATE
		SET data = EXCLUDED.data, version = documents.version + 1
	`
	if _, err := s.db.ExecContext(ctx, query, path, Collection(path), DocumentID(path), raw); err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", path, err)
	}
	return nil
}

// Delete 删除文档
func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	return nil
}

// WatchDocument 订阅文档
func (s *PostgresStore) WatchDocument(ctx context.Context, path string, handler DocumentHandler) (Subscription, error) {
	if err := ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) (string, func(), error) {
		snap, version, err := s.fetchDocument(ctx, path)
		if err != nil {
			return "", nil, err
		}
		return version, func() { handler(snap, nil) }, nil
	}
	onErr := func(err error) {
		handler(nil, &TransportError{Path: path, Err: err})
	}

	return startPolling(ctx, s.logger, path, s.interval, fetch, onErr), nil
}

// WatchQuery 订阅查询
func (s *PostgresStore) WatchQuery(ctx context.Context, query Query, handler QueryHandler) (Subscription, error) {
	fetch := func(ctx context.Context) (string, func(), error) {
		snap, fingerprint, err := s.fetchQuery(ctx, query)
		if err != nil {
			return "", nil, err
		}
		return fingerprint, func() { handler(snap, nil) }, nil
	}
	onErr := func(err error) {
		handler(nil, &TransportError{Path: query.Collection, Err: err})
	}

	return startPolling(ctx, s.logger, query.Collection, s.interval, fetch, onErr), nil
}

// fetchDocument 读取单个文档，返回快照和版本指纹
func (s *PostgresStore) fetchDocument(ctx context.Context, path string) (*DocumentSnapshot, string, error) {
	var raw []byte
	var version int64

	err := s.db.QueryRowContext(ctx,
		`SELECT data, version FROM documents WHERE path = $1`, path,
	).Scan(&raw, &version)

	snap := &DocumentSnapshot{
		ID:     DocumentID(path),
		Path:   path,
		ReadAt: s.now(),
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snap, "absent", nil
		}
		return nil, "", fmt.Errorf("failed to query document: %w", err)
	}

	data, err := decodeJSONDocument(raw)
	if err != nil {
		return nil, "", err
	}
	snap.Exists = true
	snap.Data = data
	return snap, strconv.FormatInt(version, 10), nil
}

// fetchQuery 执行相等过滤查询（按创建顺序排序，模拟服务端顺序）
func (s *PostgresStore) fetchQuery(ctx context.Context, q Query) (*QuerySnapshot, string, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT path, data, version FROM documents WHERE collection = $1`)
	args := []any{q.Collection}
	for _, f := range q.Filters {
		// jsonb 相等比较区分类型："1" 与 1 不相等
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode filter %s: %w", f.Field, err)
		}
		sb.WriteString(fmt.Sprintf(` AND data->$%d = $%d::jsonb`, len(args)+1, len(args)+2))
		args = append(args, f.Field, string(value))
	}
	sb.WriteString(` ORDER BY created_at, path`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	snap := &QuerySnapshot{ReadAt: s.now()}
	var fingerprint strings.Builder
	for rows.Next() {
		var path string
		var raw []byte
		var version int64
		if err := rows.Scan(&path, &raw, &version); err != nil {
			return nil, "", fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := decodeJSONDocument(raw)
		if err != nil {
			return nil, "", err
		}
		snap.Documents = append(snap.Documents, DocumentSnapshot{
			ID:     DocumentID(path),
			Path:   path,
			Exists: true,
			Data:   data,
			ReadAt: snap.ReadAt,
		})
		fmt.Fprintf(&fingerprint, "%s@%d;", path, version)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to iterate documents: %w", err)
	}

	return snap, fingerprint.String(), nil
}
