package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/common/config"
)

// FirestoreStore 通过 Firestore REST API 读取文档（轮询 updateTime 实现实时订阅）
type FirestoreStore struct {
	httpClient *resty.Client
	root       string // projects/{p}/databases/{db}/documents
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// firestoreValue Firestore 类型化字段值
type firestoreValue struct {
	StringValue    *string              `json:"stringValue,omitempty"`
	IntegerValue   *string              `json:"integerValue,omitempty"`
	DoubleValue    *float64             `json:"doubleValue,omitempty"`
	BooleanValue   *bool                `json:"booleanValue,omitempty"`
	TimestampValue *string              `json:"timestampValue,omitempty"`
	ReferenceValue *string              `json:"referenceValue,omitempty"`
	MapValue       *firestoreMapValue   `json:"mapValue,omitempty"`
	ArrayValue     *firestoreArrayValue `json:"arrayValue,omitempty"`
	NullValue      *string              `json:"nullValue,omitempty"`
}

type firestoreMapValue struct {
	Fields map[string]firestoreValue `json:"fields"`
}

type firestoreArrayValue struct {
	Values []firestoreValue `json:"values"`
}

// firestoreDocument REST 文档
type firestoreDocument struct {
	Name       string                    `json:"name"`
	Fields     map[string]firestoreValue `json:"fields"`
	CreateTime string                    `json:"createTime"`
	UpdateTime string                    `json:"updateTime"`
}

type firestoreRunQueryResult struct {
	Document *firestoreDocument `json:"document,omitempty"`
	ReadTime string             `json:"readTime,omitempty"`
}

type firestoreError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewFirestoreStore 创建 Firestore REST 文档库
func NewFirestoreStore(cfg *config.FirestoreConfig, logger *zap.Logger) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://firestore.googleapis.com/v1"
	}
	databaseID := cfg.DatabaseID
	if databaseID == "" {
		databaseID = "(default)"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.AccessToken != "" {
		client.SetAuthToken(cfg.AccessToken)
	}
	if cfg.APIKey != "" {
		client.SetQueryParam("key", cfg.APIKey)
	}

	return &FirestoreStore{
		httpClient: client,
		root:       fmt.Sprintf("projects/%s/databases/%s/documents", cfg.ProjectID, databaseID),
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Put 写入（覆盖）文档
func (s *FirestoreStore) Put(ctx context.Context, path string, data map[string]any) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}

	var apiErr firestoreError
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{"fields": encodeFirestoreFields(data)}).
		SetError(&apiErr).
		Patch("/" + s.root + "/" + escapePath(path))
	if err != nil {
		return fmt.Errorf("failed to write document %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("firestore returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	return nil
}

// Delete 删除文档
func (s *FirestoreStore) Delete(ctx context.Context, path string) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}

	var apiErr firestoreError
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetError(&apiErr).
		Delete("/" + s.root + "/" + escapePath(path))
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("firestore returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}
	return nil
}

// WatchDocument 订阅文档
func (s *FirestoreStore) WatchDocument(ctx context.Context, path string, handler DocumentHandler) (Subscription, error) {
	if err := ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	fetch := func(ctx context.Context) (string, func(), error) {
		snap, updateTime, err := s.getDocument(ctx, path)
		if err != nil {
			return "", nil, err
		}
		return updateTime, func() { handler(snap, nil) }, nil
	}
	onErr := func(err error) {
		handler(nil, &TransportError{Path: path, Err: err})
	}

	return startPolling(ctx, s.logger, path, s.interval, fetch, onErr), nil
}

// WatchQuery 订阅查询
func (s *FirestoreStore) WatchQuery(ctx context.Context, query Query, handler QueryHandler) (Subscription, error) {
	fetch := func(ctx context.Context) (string, func(), error) {
		snap, fingerprint, err := s.runQuery(ctx, query)
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

func (s *FirestoreStore) getDocument(ctx context.Context, path string) (*DocumentSnapshot, string, error) {
	var doc firestoreDocument
	var apiErr firestoreError

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetResult(&doc).
		SetError(&apiErr).
		Get("/" + s.root + "/" + escapePath(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to get document: %w", err)
	}

	snap := &DocumentSnapshot{
		ID:     DocumentID(path),
		Path:   path,
		ReadAt: s.now(),
	}
	if resp.StatusCode() == http.StatusNotFound {
		return snap, "absent", nil
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("firestore returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}

	snap.Exists = true
	snap.Data = decodeFirestoreFields(doc.Fields)
	return snap, doc.UpdateTime, nil
}

func (s *FirestoreStore) runQuery(ctx context.Context, q Query) (*QuerySnapshot, string, error) {
	parent := s.root
	collectionID := q.Collection
	if i := strings.LastIndex(q.Collection, "/"); i >= 0 {
		parent = s.root + "/" + escapePath(q.Collection[:i])
		collectionID = q.Collection[i+1:]
	}

	structured := map[string]any{
		"from": []map[string]any{{"collectionId": collectionID}},
	}
	if where := firestoreWhere(q.Filters); where != nil {
		structured["where"] = where
	}

	var results []firestoreRunQueryResult
	var apiErr firestoreError
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{"structuredQuery": structured}).
		SetResult(&results).
		SetError(&apiErr).
		Post("/" + parent + ":runQuery")
	if err != nil {
		return nil, "", fmt.Errorf("failed to run query: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("firestore returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}

	snap := &QuerySnapshot{ReadAt: s.now()}
	var fingerprint strings.Builder
	for _, r := range results {
		if r.Document == nil {
			continue
		}
		path := strings.TrimPrefix(r.Document.Name, resourcePrefix(r.Document.Name, s.root))
		snap.Documents = append(snap.Documents, DocumentSnapshot{
			ID:     DocumentID(path),
			Path:   path,
			Exists: true,
			Data:   decodeFirestoreFields(r.Document.Fields),
			ReadAt: snap.ReadAt,
		})
		fmt.Fprintf(&fingerprint, "%s@%s;", path, r.Document.UpdateTime)
	}
	return snap, fingerprint.String(), nil
}

// resourcePrefix 文档资源名中 ".../documents/" 之前（含）的部分
func resourcePrefix(name, root string) string {
	if i := strings.Index(name, root+"/"); i >= 0 {
		return name[:i+len(root)+1]
	}
	return ""
}

func firestoreWhere(filters []Filter) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	fieldFilters := make([]map[string]any, 0, len(filters))
	for _, f := range filters {
		fieldFilters = append(fieldFilters, map[string]any{
			"fieldFilter": map[string]any{
				"field": map[string]any{"fieldPath": f.Field},
				"op":    "EQUAL",
				"value": encodeFirestoreValue(f.Value),
			},
		})
	}
	if len(fieldFilters) == 1 {
		return fieldFilters[0]
	}
	return map[string]any{
		"compositeFilter": map[string]any{
			"op":      "AND",
			"filters": fieldFilters,
		},
	}
}

func encodeFirestoreValue(v any) map[string]any {
	switch val := v.(type) {
	case nil:
		return map[string]any{"nullValue": nil}
	case string:
		return map[string]any{"stringValue": val}
	case bool:
		return map[string]any{"booleanValue": val}
	case int:
		return map[string]any{"integerValue": strconv.Itoa(val)}
	case int32:
		return map[string]any{"integerValue": strconv.FormatInt(int64(val), 10)}
	case int64:
		return map[string]any{"integerValue": strconv.FormatInt(val, 10)}
	case float32:
		return map[string]any{"doubleValue": float64(val)}
	case float64:
		return map[string]any{"doubleValue": val}
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return map[string]any{"integerValue": strconv.FormatInt(n, 10)}
		}
		if f, err := val.Float64(); err == nil {
			return map[string]any{"doubleValue": f}
		}
		return map[string]any{"stringValue": val.String()}
	case time.Time:
		return map[string]any{"timestampValue": val.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		return map[string]any{"mapValue": map[string]any{"fields": encodeFirestoreFields(val)}}
	case []string:
		values := make([]map[string]any, 0, len(val))
		for _, item := range val {
			values = append(values, encodeFirestoreValue(item))
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}
	case []any:
		values := make([]map[string]any, 0, len(val))
		for _, item := range val {
			values = append(values, encodeFirestoreValue(item))
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}
	default:
		return map[string]any{"stringValue": fmt.Sprint(val)}
	}
}

func encodeFirestoreFields(data map[string]any) map[string]any {
	fields := make(map[string]any, len(data))
	for k, v := range data {
		fields[k] = encodeFirestoreValue(v)
	}
	return fields
}

func decodeFirestoreFields(fields map[string]firestoreValue) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = decodeFirestoreValue(v)
	}
	return out
}

// decodeFirestoreValue 转换为原生 Go 值：integerValue→int64，timestampValue→time.Time
// 无法解析的整数/时间保留原字符串，交给字段解码器处理
func decodeFirestoreValue(v firestoreValue) any {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntegerValue != nil:
		if n, err := strconv.ParseInt(*v.IntegerValue, 10, 64); err == nil {
			return n
		}
		return *v.IntegerValue
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.BooleanValue != nil:
		return *v.BooleanValue
	case v.TimestampValue != nil:
		if t, err := time.Parse(time.RFC3339Nano, *v.TimestampValue); err == nil {
			return t
		}
		return *v.TimestampValue
	case v.ReferenceValue != nil:
		return *v.ReferenceValue
	case v.MapValue != nil:
		return decodeFirestoreFields(v.MapValue.Fields)
	case v.ArrayValue != nil:
		arr := make([]any, 0, len(v.ArrayValue.Values))
		for _, item := range v.ArrayValue.Values {
			arr = append(arr, decodeFirestoreValue(item))
		}
		return arr
	default:
		return nil
	}
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
