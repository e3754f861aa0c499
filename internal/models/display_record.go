package models

// RiskTier 风险等级（用于显示样式）
type RiskTier string

const (
	RiskTierLow    RiskTier = "low"
	RiskTierMedium RiskTier = "medium"
	RiskTierHigh   RiskTier = "high"
)

// DisplayField 显示字段：文本 + 来源状态（渲染层据此选择样式，不需要解析文本）
type DisplayField struct {
	Text  string     `json:"text"`
	State FieldState `json:"state"`
}

// RiskDisplay 单个疾病风险的显示数据
type RiskDisplay struct {
	Disease  Disease    `json:"disease"`
	Fraction float64    `json:"fraction"`
	Percent  int        `json:"percent"`
	Tier     RiskTier   `json:"tier,omitempty"`
	Text     string     `json:"text"`
	State    FieldState `json:"state"`
}

// TaskDisplay 工作任务显示数据
type TaskDisplay struct {
	Slot TaskSlot     `json:"slot"`
	Text DisplayField `json:"text"`
}

// DisplayRecord 显示记录（由 WorkerRecord 投影得出，每次更新重新计算）
type DisplayRecord struct {
	WorkerID   WorkerIdentity `json:"worker_id"`
	Version    uint64         `json:"version"`
	Name       DisplayField   `json:"name"`
	Age        DisplayField   `json:"age"`
	BMI        DisplayField   `json:"bmi"`
	CreatedAt  DisplayField   `json:"created_at"`
	Risks      []RiskDisplay  `json:"risks"`
	DietPlan   DisplayField   `json:"diet_plan"`
	Tasks      []TaskDisplay  `json:"tasks"`
	DoctorCity DisplayField   `json:"doctor_city"`
	DoctorInfo DisplayField   `json:"doctor_info"`
}
