package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/models"
)

// Sink 显示记录输出端；错误只记录日志，不中断同步
type Sink interface {
	Name() string
	Publish(ctx context.Context, rec models.DisplayRecord) error
}

// LogSink 以结构化日志输出显示记录
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink 创建日志输出端
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Publish(ctx context.Context, rec models.DisplayRecord) error {
	fields := []zap.Field{
		zap.String("worker_id", string(rec.WorkerID)),
		zap.Uint64("version", rec.Version),
		zap.String("name", rec.Name.Text),
		zap.String("age", rec.Age.Text),
		zap.String("bmi", rec.BMI.Text),
		zap.String("created_at", rec.CreatedAt.Text),
		zap.String("diet_plan", rec.DietPlan.Text),
		zap.String("doctor_city", rec.DoctorCity.Text),
	}
	for _, r := range rec.Risks {
		fields = append(fields, zap.String("risk_"+string(r.Disease), r.Text))
	}
	for _, t := range rec.Tasks {
		fields = append(fields, zap.String(string(t.Slot), t.Text.Text))
	}
	s.logger.Info("Worker record updated", fields...)
	return nil
}
