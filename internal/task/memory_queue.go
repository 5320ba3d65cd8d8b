package task

import (
	"context"
	"sync"

	xerrors "SmartBI-Agent/internal/errors"
)

// MemoryQueue 为每个优先级维护一个带缓冲的 channel，单进程部署与测试使用。
type MemoryQueue struct {
	lanes  [2]chan Message
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建内存队列，size 为每条车道的缓冲容量。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	q := &MemoryQueue{}
	for i := range q.lanes {
		q.lanes[i] = make(chan Message, size)
	}
	return q
}

// Publish 将消息放入对应车道。持有读锁直到写入完成，Close 不会与之并发关闭 channel。
func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(CodeTaskPublish, "队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.lanes[msg.lane()] <- msg:
		return nil
	}
}

// next 优先取交互式车道，为空时再同时等待两条车道。
func (q *MemoryQueue) next(ctx context.Context) (Message, bool) {
	select {
	case msg, ok := <-q.lanes[0]:
		if ok {
			return msg, true
		}
	default:
	}
	select {
	case <-ctx.Done():
		return Message{}, false
	// 两条车道在 Close 中同时关闭，一条关闭时另一条的读取不会阻塞。
	case msg, ok := <-q.lanes[0]:
		if !ok {
			msg, ok = <-q.lanes[1]
		}
		return msg, ok
	case msg, ok := <-q.lanes[1]:
		if !ok {
			msg, ok = <-q.lanes[0]
		}
		return msg, ok
	}
}

// Consume 启动指定数量的工作协程，直到 ctx 取消或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg, ok := q.next(ctx)
				if !ok {
					return
				}
				_ = handler(ctx, msg)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Pending 返回各优先级尚未出队的消息数。
func (q *MemoryQueue) Pending() map[Priority]int {
	out := make(map[Priority]int, len(priorities))
	for i, p := range priorities {
		out[p] = len(q.lanes[i])
	}
	return out
}

// Close 关闭两条车道，已缓冲的消息仍会被消费完。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		for _, lane := range q.lanes {
			close(lane)
		}
		q.closed = true
	}
	return nil
}
