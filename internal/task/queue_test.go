package task

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "SmartBI-Agent/internal/errors"
)

func TestMemoryQueueServesInteractiveFirst(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(8)
	for _, msg := range []Message{
		{TaskID: "report-1", Priority: PriorityBatch},
		{TaskID: "report-2", Priority: PriorityBatch},
		{TaskID: "chat-1", Priority: PriorityInteractive},
		{TaskID: "chat-2"},
	} {
		if err := queue.Publish(ctx, msg); err != nil {
			t.Fatalf("publish %s: %v", msg.TaskID, err)
		}
	}
	pending := queue.Pending()
	if pending[PriorityInteractive] != 2 || pending[PriorityBatch] != 2 {
		t.Fatalf("unexpected pending counts: %v", pending)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var (
		mu    sync.Mutex
		order []string
	)
	// 关闭后缓冲的消息仍被消费完，Consume 随后返回。
	_ = queue.Consume(ctx, 1, func(_ context.Context, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, msg.TaskID)
		return nil
	})
	want := []string{"chat-1", "chat-2", "report-1", "report-2"}
	if len(order) != len(want) {
		t.Fatalf("unexpected delivery order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected delivery order: %v", order)
		}
	}
}

func TestMemoryQueueRejectsAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	_ = queue.Close()
	if err := queue.Publish(context.Background(), Message{TaskID: "late"}); xerrors.CodeOf(err) != CodeTaskPublish {
		t.Fatalf("expected publish error after close, got %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestMessageCodec(t *testing.T) {
	body, err := encodeMessage(Message{TaskID: "q-1", Attempt: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(body) != `{"task_id":"q-1","priority":"interactive","attempt":2}` {
		t.Fatalf("unexpected body: %s", body)
	}

	tests := []struct {
		name    string
		body    string
		want    Message
		wantErr bool
	}{
		{name: "json", body: `{"task_id":"q-2","priority":"batch"}`, want: Message{TaskID: "q-2", Priority: PriorityBatch}},
		{name: "bare id", body: " q-3\n", want: Message{TaskID: "q-3", Priority: PriorityInteractive}},
		{name: "missing id", body: `{"priority":"batch"}`, wantErr: true},
		{name: "empty", body: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeMessage([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %+v, %v; want %+v", got, err, tt.want)
			}
		})
	}
}

func TestParsePriority(t *testing.T) {
	for input, want := range map[string]Priority{"": PriorityInteractive, " Batch ": PriorityBatch, "interactive": PriorityInteractive} {
		got, err := ParsePriority(input)
		if err != nil || got != want {
			t.Fatalf("ParsePriority(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}

func TestRedisLaneKeys(t *testing.T) {
	keys := laneKeys("")
	if len(keys) != 2 || keys[0] != "smartbi:queries:interactive" || keys[1] != "smartbi:queries:batch" {
		t.Fatalf("unexpected lane keys: %v", keys)
	}
	if amqpPriority(PriorityInteractive) <= amqpPriority(PriorityBatch) {
		t.Fatalf("interactive messages must outrank batch messages")
	}
}
