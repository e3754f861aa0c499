// Package docstore 远程文档数据库客户端抽象：文档/查询的实时订阅。
//
// 每个订阅按服务端顺序投递自己的快照；不同订阅之间没有顺序保证。
// 取消订阅后仍可能收到迟到的回调，由使用方按代际(generation)丢弃。
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// 集合与子文档路径
const (
	CollectionWorkerDetails = "workerDetails"

	SubcollectionDiet      = "diet"
	DocumentDietPlan       = "plan"
	SubcollectionWorkPlan  = "workPlan"
	SubcollectionDoctor    = "doctor"
	DocumentRecommendation = "recommendation"
)

// ErrInvalidPath 文档路径不合法（段数必须为偶数且不含空段）
var ErrInvalidPath = errors.New("invalid document path")

// TransportError 订阅传输错误（隔离在单个订阅内，不会自动重试或拆除订阅）
type TransportError struct {
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DocumentSnapshot 文档快照
type DocumentSnapshot struct {
	ID     string
	Path   string
	Exists bool
	Data   map[string]any
	ReadAt time.Time
}

// Get 读取字段（支持 "a.b" 形式访问嵌套 map）
func (s *DocumentSnapshot) Get(field string) (any, bool) {
	if s == nil || s.Data == nil {
		return nil, false
	}
	var cur any = s.Data
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// QuerySnapshot 查询结果快照（文档按服务端顺序排列）
type QuerySnapshot struct {
	Documents []DocumentSnapshot
	ReadAt    time.Time
}

// Filter 相等过滤条件
type Filter struct {
	Field string
	Value any
}

// Query 集合查询
type Query struct {
	Collection string
	Filters    []Filter
}

// Matches 文档是否满足所有过滤条件（类型严格相等：字符串 "1" 不等于数值 1）
func (q Query) Matches(data map[string]any) bool {
	for _, f := range q.Filters {
		v, ok := data[f.Field]
		if !ok || !valuesEqual(v, f.Value) {
			return false
		}
	}
	return true
}

// valuesEqual 字符串只与字符串比较；各种数值类型（含 json.Number）按数值比较
func valuesEqual(a, b any) bool {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	if af, ok := numericValue(a); ok {
		bf, ok := numericValue(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// DocumentHandler 文档快照回调；err 非空时为 *TransportError
type DocumentHandler func(snap *DocumentSnapshot, err error)

// QueryHandler 查询快照回调；err 非空时为 *TransportError
type QueryHandler func(snap *QuerySnapshot, err error)

// Subscription 订阅句柄
type Subscription interface {
	// Cancel 取消订阅（幂等，不阻塞）
	Cancel()
}

// Store 远程文档数据库
type Store interface {
	WatchDocument(ctx context.Context, path string, handler DocumentHandler) (Subscription, error)
	WatchQuery(ctx context.Context, query Query, handler QueryHandler) (Subscription, error)
}

// Writer 文档写入（种子数据、测试）
type Writer interface {
	Put(ctx context.Context, path string, data map[string]any) error
	Delete(ctx context.Context, path string) error
}

// Join 拼接路径段
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidateDocumentPath 校验文档路径
func ValidateDocumentPath(path string) error {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// Collection 文档所在集合路径
func Collection(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

// DocumentID 文档ID（路径最后一段）
func DocumentID(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}

// WorkerPath workerDetails/{id}
func WorkerPath(id string) string {
	return Join(CollectionWorkerDetails, id)
}

// DietPlanPath workerDetails/{id}/diet/plan
func DietPlanPath(id string) string {
	return Join(CollectionWorkerDetails, id, SubcollectionDiet, DocumentDietPlan)
}

// WorkTaskPath workerDetails/{id}/workPlan/{slot}
func WorkTaskPath(id, slot string) string {
	return Join(CollectionWorkerDetails, id, SubcollectionWorkPlan, slot)
}

// DoctorRecommendationPath workerDetails/{id}/doctor/recommendation
func DoctorRecommendationPath(id string) string {
	return Join(CollectionWorkerDetails, id, SubcollectionDoctor, DocumentRecommendation)
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneData(val)
		case []any:
			cp := make([]any, len(val))
			copy(cp, val)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
