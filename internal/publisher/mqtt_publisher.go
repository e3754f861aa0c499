package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/models"
)

// DefaultTopicPrefix 默认主题前缀
const DefaultTopicPrefix = "swasthya/workers"

// MQTTClient MQTT 发布接口（common/mqtt.Client 实现，测试中替换）
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 把显示记录发布为保留消息，新订阅者立即拿到最新状态
type MQTTPublisher struct {
	client MQTTClient
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewMQTTPublisher 创建 MQTT 发布器
func NewMQTTPublisher(client MQTTClient, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if qos > 2 {
		qos = 1
	}
	return &MQTTPublisher{
		client: client,
		prefix: prefix,
		qos:    qos,
		logger: logger,
	}
}

// Name 输出端名称
func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

// Topic 工人显示记录主题：{prefix}/{id}/display
func (p *MQTTPublisher) Topic(id models.WorkerIdentity) string {
	return fmt.Sprintf("%s/%s/display", p.prefix, id)
}

// Publish 发布显示记录
func (p *MQTTPublisher) Publish(ctx context.Context, rec models.DisplayRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal display record: %w", err)
	}

	topic := p.Topic(rec.WorkerID)
	if err := p.client.Publish(topic, p.qos, true, payload); err != nil {
		return err
	}

	p.logger.Debug("Published display record",
		zap.String("topic", topic),
		zap.Uint64("version", rec.Version),
		zap.Int("payload_size", len(payload)),
	)
	return nil
}

// Clear 清除保留消息（发布空负载）
func (p *MQTTPublisher) Clear(id models.WorkerIdentity) error {
	return p.client.Publish(p.Topic(id), p.qos, true, nil)
}
