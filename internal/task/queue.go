package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Priority 决定查询在队列中的车道。交互式查询有人在等结果，
// 总是先于批量报表查询出队。
type Priority string

const (
	PriorityInteractive Priority = "interactive"
	PriorityBatch       Priority = "batch"
)

// priorities 按出队先后排列。
var priorities = []Priority{PriorityInteractive, PriorityBatch}

// ParsePriority 解析外部输入，空串视为交互式。
func ParsePriority(value string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(value))); p {
	case "":
		return PriorityInteractive, nil
	case PriorityInteractive, PriorityBatch:
		return p, nil
	default:
		return "", fmt.Errorf("未知的查询优先级: %s", value)
	}
}

// Message 是队列中传递的投递单元。Attempt 记录投递时任务已执行的次数，
// 消费端据此判断是否为重投。
type Message struct {
	TaskID   string   `json:"task_id"`
	Priority Priority `json:"priority"`
	Attempt  int      `json:"attempt,omitempty"`
}

func messageFor(task *Task) Message {
	return Message{TaskID: task.ID, Priority: task.Priority, Attempt: task.Attempts}
}

// lane 返回消息所在车道的下标，未知优先级归入批量车道。
func (m Message) lane() int {
	if m.Priority == PriorityInteractive || m.Priority == "" {
		return 0
	}
	return 1
}

func encodeMessage(m Message) ([]byte, error) {
	if m.Priority == "" {
		m.Priority = PriorityInteractive
	}
	return json.Marshal(m)
}

// decodeMessage 兼容只包含任务 ID 的纯文本消息。
func decodeMessage(body []byte) (Message, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Message{}, fmt.Errorf("空的队列消息")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Message{TaskID: trimmed, Priority: PriorityInteractive}, nil
	}
	var m Message
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return Message{}, fmt.Errorf("解析队列消息失败: %w", err)
	}
	if m.TaskID == "" {
		return Message{}, fmt.Errorf("队列消息缺少 task_id")
	}
	if m.Priority == "" {
		m.Priority = PriorityInteractive
	}
	return m, nil
}

// Handler 处理一条队列消息。
type Handler func(ctx context.Context, msg Message) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
