package orchestrator

import (
	"encoding/json"
	"errors"
	"strings"
)

// 调用标记，必须与提示中的格式逐字节一致。
const (
	OpenMarker  = "[TOOL_CALL]"
	CloseMarker = "[/TOOL_CALL]"
)

// Invocation 是从模型回复中扫描出的一次工具调用。
type Invocation struct {
	Name    string
	RawArgs string
	// Offset 是开始标记在回复中的字节位置。
	Offset int
}

// Args 将参数解析为 JSON 对象。
func (inv Invocation) Args() (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(inv.RawArgs), &args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, errors.New("tool arguments must be a JSON object")
	}
	return args, nil
}

// Scan 从左到右线性扫描全部调用标记。
//
// 每个结束标记与它之前最近的开始标记配对；名称截止于第一个冒号，
// 名称与参数两侧的空白会被去除。没有冒号的标记不构成调用。
func Scan(text string) []Invocation {
	var (
		out []Invocation
		pos int
	)
	for pos < len(text) {
		open := strings.Index(text[pos:], OpenMarker)
		if open < 0 {
			break
		}
		open += pos
		bodyStart := open + len(OpenMarker)

		end := strings.Index(text[bodyStart:], CloseMarker)
		if end < 0 {
			break
		}
		end += bodyStart

		// 开始标记嵌套时以最内层为准。
		if inner := strings.LastIndex(text[bodyStart:end], OpenMarker); inner >= 0 {
			open = bodyStart + inner
			bodyStart = open + len(OpenMarker)
		}

		body := text[bodyStart:end]
		pos = end + len(CloseMarker)

		colon := strings.IndexByte(body, ':')
		if colon < 0 {
			continue
		}
		out = append(out, Invocation{
			Name:    strings.TrimSpace(body[:colon]),
			RawArgs: strings.TrimSpace(body[colon+1:]),
			Offset:  open,
		})
	}
	return out
}
