package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"SmartBI-Agent/pkg/logger"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 为每个优先级使用一个 Redis list，键名为 "<queue>:<priority>"。
// BRPOP 按键顺序检查，交互式车道非空时总是先出队。
type RedisQueue struct {
	client *redis.Client
	keys   []string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisQueue{client: client, keys: laneKeys(cfg.Queue), wait: wait}, nil
}

func laneKeys(queue string) []string {
	if queue == "" {
		queue = "smartbi:queries"
	}
	keys := make([]string, len(priorities))
	for i, p := range priorities {
		keys[i] = queue + ":" + string(p)
	}
	return keys
}

// Publish 以 JSON 形式写入消息所属车道的左端。
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.keys[msg.lane()], body).Err(); err != nil {
		return fmt.Errorf("Redis 发布任务失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 同时阻塞在所有车道上。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for ctx.Err() == nil {
				values, err := q.client.BRPop(ctx, q.wait, q.keys...).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- fmt.Errorf("Redis 取任务失败: %w", err)
					return
				}
				if len(values) != 2 {
					continue
				}
				msg, err := decodeMessage([]byte(values[1]))
				if err != nil {
					logger.L().Warn("丢弃无法解析的队列消息", slog.String("key", values[0]), slog.Any("error", err))
					continue
				}
				if handlerErr := handler(ctx, msg); handlerErr != nil {
					// 放回车道右端，下一次 BRPOP 立即取回。
					if body, encErr := encodeMessage(msg); encErr == nil {
						_ = q.client.RPush(ctx, values[0], body).Err()
					}
				}
			}
			errCh <- ctx.Err()
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Pending 返回各车道当前的长度。
func (q *RedisQueue) Pending(ctx context.Context) (map[Priority]int, error) {
	out := make(map[Priority]int, len(priorities))
	for i, p := range priorities {
		n, err := q.client.LLen(ctx, q.keys[i]).Result()
		if err != nil {
			return nil, fmt.Errorf("读取 Redis 队列长度失败: %w", err)
		}
		out[p] = int(n)
	}
	return out, nil
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
