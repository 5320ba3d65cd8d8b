package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"SmartBI-Agent/internal/llm"
)

// Block 是混合内容中的一段。
type Block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Content 既可以是纯文本，也可以是内容块列表。
type Content struct {
	Blocks []Block
}

// TextContent 构造纯文本内容。
func TextContent(text string) Content {
	return Content{Blocks: []Block{{Type: "text", Text: text}}}
}

// Text 拼接全部文本块，非文本块被忽略。
func (c Content) Text() string {
	parts := make([]string, 0, len(c.Blocks))
	for _, b := range c.Blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}

// UnmarshalJSON 接受字符串或内容块数组。
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	return json.Unmarshal(data, &c.Blocks)
}

// MarshalJSON 单个文本块输出为字符串，其余输出为数组。
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Blocks) == 1 && c.Blocks[0].Type == "text" {
		return json.Marshal(c.Blocks[0].Text)
	}
	if c.Blocks == nil {
		return []byte(`""`), nil
	}
	return json.Marshal(c.Blocks)
}

// Message 是调用方传入的一轮历史。
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// NewMessage 构造纯文本历史。
func NewMessage(role llm.Role, text string) Message {
	return Message{Role: string(role), Content: TextContent(text)}
}

func normalizeRole(role string) llm.Role {
	switch llm.Role(strings.ToLower(strings.TrimSpace(role))) {
	case llm.RoleAssistant:
		return llm.RoleAssistant
	case llm.RoleSystem:
		return llm.RoleSystem
	default:
		return llm.RoleUser
	}
}

// Conversation 保存交互式会话的历史，系统提示不在其中。
type Conversation struct {
	mu    sync.Mutex
	turns []Message
}

// NewConversation 创建空会话。
func NewConversation() *Conversation {
	return &Conversation{}
}

// Add 追加一轮。
func (c *Conversation) Add(role llm.Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, NewMessage(role, text))
}

// History 返回历史的副本。
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Reset 清空历史。
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}

// Len 返回轮次数量。
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}
