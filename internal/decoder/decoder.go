// Package decoder 将远程文档的字段规范化为带状态的类型化记录
// 历史数据中 age/bmi/timestamp 既有数值也有字符串编码，两种编码解码结果一致；
// 无法解析的字段为 unknown，不返回错误
package decoder

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/raj3104/SwasthyaSanket/internal/models"
)

// TimestampLayout 字符串时间戳格式（UTC，6 位小数秒）
const TimestampLayout = "2006-01-02T15:04:05.000000"

// 文档字段名
const (
	fieldName            = "name"
	fieldPatientInputs   = "patient_inputs"
	fieldAge             = "age"
	fieldBMI             = "bmi"
	fieldTimestamp       = "timestamp"
	fieldDiseaseProbs    = "disease_probs"
	fieldRecommendations = "recommendations"
	fieldStatus          = "status"
	fieldTask            = "task"
	fieldPriority        = "priority"
	fieldDuration        = "duration"
	fieldCity            = "city"
	fieldInfo            = "info"
)

var (
	escapedPeriod   = regexp.MustCompile(`\\+\.`)
	listMarker      = regexp.MustCompile(`\d+\. `)
	timestampFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6}$`)
)

// Age 解析年龄（非整数截断）
func Age(v any) models.Field[int] {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if n, err := strconv.Atoi(s); err == nil {
			return models.Known(n)
		}
	}
	f, ok := number(v)
	if !ok || math.Abs(f) > math.MaxInt32 {
		return models.Unknown[int]()
	}
	return models.Known(int(f))
}

// BMI 解析 BMI
func BMI(v any) models.Field[float64] {
	f, ok := number(v)
	if !ok {
		return models.Unknown[float64]()
	}
	return models.Known(f)
}

// Risk 解析疾病风险概率，限制在 [0,1]
func Risk(v any) models.Field[float64] {
	f, ok := number(v)
	if !ok {
		return models.Unknown[float64]()
	}
	return models.Known(math.Min(1, math.Max(0, f)))
}

// Timestamp 解析创建时间：time.Time、TimestampLayout 字符串、Unix 秒
// 或 {seconds, nanoseconds} 形式的导出时间戳
func Timestamp(v any) models.Field[time.Time] {
	switch val := v.(type) {
	case time.Time:
		if val.IsZero() {
			return models.Unknown[time.Time]()
		}
		return models.Known(val.UTC())
	case string:
		// time.Parse 接受一位数的小时，先按固定位数校验
		s := strings.TrimSpace(val)
		if !timestampFormat.MatchString(s) {
			return models.Unknown[time.Time]()
		}
		t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
		if err != nil {
			return models.Unknown[time.Time]()
		}
		return models.Known(t)
	case map[string]any:
		sec, ok := number(firstOf(val, "seconds", "_seconds"))
		if !ok {
			return models.Unknown[time.Time]()
		}
		nanos, _ := number(firstOf(val, "nanoseconds", "nanos", "_nanoseconds"))
		return models.Known(time.Unix(int64(sec), int64(nanos)).UTC())
	}

	sec, ok := number(v)
	if !ok {
		return models.Unknown[time.Time]()
	}
	whole, frac := math.Modf(sec)
	return models.Known(time.Unix(int64(whole), int64(frac*1e9)).UTC())
}

// String 解析字符串字段
func String(v any) models.Field[string] {
	s, ok := v.(string)
	if !ok {
		return models.Unknown[string]()
	}
	return models.Known(s)
}

// DecodeBasic 解析 workerDetails/{id} 文档
func DecodeBasic(data map[string]any) models.BasicFields {
	inputs, _ := data[fieldPatientInputs].(map[string]any)
	probs, _ := data[fieldDiseaseProbs].(map[string]any)

	risks := make(map[models.Disease]models.Field[float64], len(models.Diseases))
	for _, d := range models.Diseases {
		risks[d] = Risk(probs[string(d)])
	}

	return models.BasicFields{
		Name:         String(data[fieldName]),
		Age:          Age(inputs[fieldAge]),
		BMI:          BMI(inputs[fieldBMI]),
		CreatedAt:    Timestamp(data[fieldTimestamp]),
		DiseaseRisks: risks,
	}
}

// DecodeDietPlan 解析 diet/plan 文档
func DecodeDietPlan(data map[string]any) models.DietPlan {
	var recs []string
	switch val := data[fieldRecommendations].(type) {
	case []string:
		recs = append(recs, val...)
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				recs = append(recs, s)
			}
		}
	}
	return models.DietPlan{
		Recommendations: recs,
		Status:          String(data[fieldStatus]),
	}
}

// DecodeWorkTask 解析 workPlan/task_0N 文档
func DecodeWorkTask(data map[string]any) models.WorkTask {
	return models.WorkTask{
		Task:     String(data[fieldTask]),
		Priority: String(data[fieldPriority]),
		Duration: String(data[fieldDuration]),
	}
}

// DecodeDoctorRecommendation 解析 doctor/recommendation 文档
func DecodeDoctorRecommendation(data map[string]any) models.DoctorRecommendation {
	info := models.Unknown[string]()
	if raw, ok := data[fieldInfo].(string); ok {
		info = models.Known(FormatDoctorInfo(raw))
	}
	return models.DoctorRecommendation{
		City: String(data[fieldCity]),
		Info: info,
	}
}

// FormatDoctorInfo 还原转义的句点，并在每个 "<数字>. " 编号前分段，段间空一行
func FormatDoctorInfo(raw string) string {
	text := escapedPeriod.ReplaceAllString(raw, ".")

	var segments []string
	start := 0
	for _, loc := range listMarker.FindAllStringIndex(text, -1) {
		if loc[0] > start {
			segments = append(segments, text[start:loc[0]])
		}
		start = loc[0]
	}
	segments = append(segments, text[start:])

	out := segments[:0]
	for _, seg := range segments {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return strings.Join(out, "\n\n")
}

// number 将数值或数值字符串转换为 float64（NaN/Inf 视为无法解析）
func number(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case int:
		f = float64(val)
	case int8:
		f = float64(val)
	case int16:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint8:
		f = float64(val)
	case uint16:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case float32:
		f = float64(val)
	case float64:
		f = val
	case json.Number:
		n, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
