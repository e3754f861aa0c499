package models

// FieldState 字段状态
type FieldState int

const (
	// StateUnknown 尚未收到数据，或数据无法解析
	StateUnknown FieldState = iota
	// StateAbsent 已确认文档不存在
	StateAbsent
	// StateError 所属订阅传输出错
	StateError
	// StateValue 有值
	StateValue
)

func (s FieldState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateError:
		return "error"
	case StateValue:
		return "value"
	default:
		return "unknown"
	}
}

// MarshalText 以字符串形式序列化（JSON 输出更易读）
func (s FieldState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析字符串形式的状态
func (s *FieldState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "absent":
		*s = StateAbsent
	case "error":
		*s = StateError
	case "value":
		*s = StateValue
	default:
		*s = StateUnknown
	}
	return nil
}

// Field 带状态标签的字段值 {unknown | absent | error | value(T)}
type Field[T any] struct {
	State FieldState `json:"state"`
	Value T          `json:"value,omitempty"`
	Err   string     `json:"error,omitempty"`
}

// Unknown 未知字段
func Unknown[T any]() Field[T] {
	return Field[T]{State: StateUnknown}
}

// Absent 不存在字段
func Absent[T any]() Field[T] {
	return Field[T]{State: StateAbsent}
}

// Failed 出错字段
func Failed[T any](err error) Field[T] {
	f := Field[T]{State: StateError}
	if err != nil {
		f.Err = err.Error()
	}
	return f
}

// Known 有值字段
func Known[T any](v T) Field[T] {
	return Field[T]{State: StateValue, Value: v}
}

// Get 返回值以及是否有值
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.State == StateValue
}

// IsKnown 是否有值
func (f Field[T]) IsKnown() bool {
	return f.State == StateValue
}
