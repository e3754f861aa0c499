package models

import "time"

// WorkerIdentity 工人文档ID（workerDetails/{id}）
type WorkerIdentity string

// Disease 疾病名称（disease_probs 的固定键）
type Disease string

const (
	DiseaseCOPD          Disease = "COPD"
	DiseaseDiabetes      Disease = "Diabetes"
	DiseaseHeartDisease  Disease = "Heart Disease"
	DiseaseHypertension  Disease = "Hypertension"
	DiseaseKidneyDisease Disease = "Kidney Disease"
)

// Diseases 显示顺序
var Diseases = []Disease{
	DiseaseCOPD,
	DiseaseDiabetes,
	DiseaseHeartDisease,
	DiseaseHypertension,
	DiseaseKidneyDisease,
}

// TaskSlot 工作任务槽位（workPlan 子集合的文档ID）
type TaskSlot string

const (
	TaskSlot01 TaskSlot = "task_01"
	TaskSlot02 TaskSlot = "task_02"
)

// TaskSlots 所有任务槽位
var TaskSlots = []TaskSlot{TaskSlot01, TaskSlot02}

// BasicFields 基础信息（workerDetails/{id} 文档）
type BasicFields struct {
	Name         Field[string]              `json:"name"`
	Age          Field[int]                 `json:"age"`
	BMI          Field[float64]             `json:"bmi"`
	CreatedAt    Field[time.Time]           `json:"created_at"`
	DiseaseRisks map[Disease]Field[float64] `json:"disease_risks"`
}

// DietPlan 饮食计划（diet/plan 文档）
type DietPlan struct {
	Recommendations []string      `json:"recommendations"`
	Status          Field[string] `json:"status"`
}

// WorkTask 工作任务（workPlan/task_0N 文档）
type WorkTask struct {
	Task     Field[string] `json:"task"`
	Priority Field[string] `json:"priority"`
	Duration Field[string] `json:"duration"`
}

// DoctorRecommendation 医生推荐（doctor/recommendation 文档）
type DoctorRecommendation struct {
	City Field[string] `json:"city"`
	Info Field[string] `json:"info"` // 已格式化为多段文本
}

// WorkerRecord 规范化后的工人记录
// 每个子字段由独立订阅维护，只做局部合并
type WorkerRecord struct {
	Identity  WorkerIdentity               `json:"identity"`
	Basic     Field[BasicFields]           `json:"basic"`
	DietPlan  Field[DietPlan]              `json:"diet_plan"`
	WorkTasks map[TaskSlot]Field[WorkTask] `json:"work_tasks"`
	Doctor    Field[DoctorRecommendation]  `json:"doctor"`
	Version   uint64                       `json:"version"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// NewWorkerRecord 创建空记录（所有子字段为 unknown）
func NewWorkerRecord(id WorkerIdentity) WorkerRecord {
	tasks := make(map[TaskSlot]Field[WorkTask], len(TaskSlots))
	for _, slot := range TaskSlots {
		tasks[slot] = Unknown[WorkTask]()
	}
	return WorkerRecord{
		Identity:  id,
		Basic:     Unknown[BasicFields](),
		DietPlan:  Unknown[DietPlan](),
		WorkTasks: tasks,
		Doctor:    Unknown[DoctorRecommendation](),
	}
}

// Clone 深拷贝（发布给观察者的不可变快照）
func (r WorkerRecord) Clone() WorkerRecord {
	out := r

	if r.Basic.Value.DiseaseRisks != nil {
		risks := make(map[Disease]Field[float64], len(r.Basic.Value.DiseaseRisks))
		for k, v := range r.Basic.Value.DiseaseRisks {
			risks[k] = v
		}
		out.Basic.Value.DiseaseRisks = risks
	}

	if r.DietPlan.Value.Recommendations != nil {
		recs := make([]string, len(r.DietPlan.Value.Recommendations))
		copy(recs, r.DietPlan.Value.Recommendations)
		out.DietPlan.Value.Recommendations = recs
	}

	if r.WorkTasks != nil {
		tasks := make(map[TaskSlot]Field[WorkTask], len(r.WorkTasks))
		for k, v := range r.WorkTasks {
			tasks[k] = v
		}
		out.WorkTasks = tasks
	}

	return out
}

// Complete 是否所有子字段都已收到（值、不存在或错误）
func (r WorkerRecord) Complete() bool {
	if r.Basic.State == StateUnknown || r.DietPlan.State == StateUnknown || r.Doctor.State == StateUnknown {
		return false
	}
	for _, slot := range TaskSlots {
		if r.WorkTasks[slot].State == StateUnknown {
			return false
		}
	}
	return true
}
