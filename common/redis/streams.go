package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StreamBeginning 从头读取 Stream 的游标
const StreamBeginning = "0-0"

// StreamMessage Redis Streams 消息
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]interface{}
}

// PublishToStream 发布消息到 Redis Streams（值统一转换为字符串）
func PublishToStream(ctx context.Context, client *redis.Client, stream string, values map[string]interface{}) (string, error) {
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			streamValues[k] = val
		case []byte:
			streamValues[k] = string(val)
		default:
			streamValues[k] = fmt.Sprint(val)
		}
	}

	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: streamValues,
	}).Result()
}

// LatestStreamID 获取 Stream 当前最新消息ID（Stream 不存在时返回 StreamBeginning）
func LatestStreamID(ctx context.Context, client *redis.Client, stream string) (string, error) {
	msgs, err := client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StreamBeginning, nil
		}
		return "", err
	}
	if len(msgs) == 0 {
		return StreamBeginning, nil
	}
	return msgs[0].ID, nil
}

// ReadStreamAfter 从游标之后读取消息（XREAD，不使用消费者组，每个读取者都能看到全部消息）
// block 为 0 时不阻塞；超时无消息时返回空切片
func ReadStreamAfter(ctx context.Context, client *redis.Client, stream string, cursor string, count int64, block time.Duration) ([]StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{stream, cursor},
		Count:   count,
		Block:   block,
	}
	if block <= 0 {
		args.Block = -1
	}

	streams, err := client.XRead(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []StreamMessage{}, nil
		}
		return nil, err
	}

	var messages []StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, StreamMessage{
				Stream: s.Stream,
				ID:     msg.ID,
				Values: msg.Values,
			})
		}
	}
	return messages, nil
}
