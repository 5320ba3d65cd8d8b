package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// 工具名称。
const (
	ToolLoad      = "load"
	ToolDescribe  = "describe"
	ToolList      = "list"
	ToolRunScript = "run_script"
)

// ServerName 是引擎在 MCP 握手中声明的名称。
const ServerName = "smartbi-engine"

// Arg 描述工具的一个参数。
type Arg struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Descriptor 描述引擎暴露的一个工具。
type Descriptor struct {
	Name        string
	Description string
	Args        []Arg
}

// InputSchema 返回参数的 JSON Schema。
func (d Descriptor) InputSchema() map[string]any {
	props := make(map[string]any, len(d.Args))
	required := make([]string, 0, len(d.Args))
	for _, arg := range d.Args {
		props[arg.Name] = map[string]any{
			"type":        arg.Type,
			"description": arg.Description,
		}
		if arg.Required {
			required = append(required, arg.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Descriptors 返回引擎的工具清单。
func Descriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        ToolLoad,
			Description: "Load a CSV file into a named dataset for analysis.",
			Args: []Arg{
				{Name: "path", Type: "string", Description: "Path to the CSV file", Required: true},
				{Name: "name", Type: "string", Description: "Name for the dataset (optional, auto-generated as df_N when omitted)"},
			},
		},
		{
			Name:        ToolDescribe,
			Description: "Get structure, descriptive statistics and correlations of a loaded dataset.",
			Args: []Arg{
				{Name: "name", Type: "string", Description: "Name of the dataset to describe", Required: true},
			},
		},
		{
			Name:        ToolList,
			Description: "List all currently loaded datasets with their shapes.",
		},
		{
			Name:        ToolRunScript,
			Description: "Execute an analysis script against the loaded datasets. Each dataset is available by name; print results or assign _return_value.",
			Args: []Arg{
				{Name: "code", Type: "string", Description: "Script source to execute", Required: true},
			},
		},
	}
}

// NewServer 创建注册了全部工具的 MCP 服务端。
func NewServer(e *Engine, version string, log *slog.Logger) *mcp.Server {
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, &mcp.ServerOptions{
		Instructions: "Data exploration engine. Load CSV files, inspect them and run analysis scripts.",
		Logger:       log,
	})
	for _, desc := range Descriptors() {
		server.AddTool(&mcp.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			InputSchema: desc.InputSchema(),
		}, e.handler(desc))
	}
	return server
}

// Serve 在给定传输层上运行引擎直到连接关闭或 ctx 取消。
func Serve(ctx context.Context, e *Engine, version string, transport mcp.Transport) error {
	server := NewServer(e, version, e.logger)
	return server.Run(ctx, transport)
}

func (e *Engine) handler(desc Descriptor) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArgs(req.Params.Arguments)
		if err != nil {
			return textResult(fmt.Sprintf("Error: invalid arguments for %s: %v", desc.Name, err), true), nil
		}
		for _, arg := range desc.Args {
			if arg.Required && args[arg.Name] == "" {
				return textResult(fmt.Sprintf("Error: missing required argument '%s' for %s", arg.Name, desc.Name), true), nil
			}
		}

		var text string
		switch desc.Name {
		case ToolLoad:
			text = e.Load(ctx, args["path"], args["name"])
		case ToolDescribe:
			text = e.Describe(ctx, args["name"])
		case ToolList:
			text = e.List(ctx)
		case ToolRunScript:
			text = e.RunScript(ctx, args["code"])
		default:
			return nil, fmt.Errorf("unknown tool %q", desc.Name)
		}
		return textResult(text, false), nil
	}
}

// decodeArgs 将参数对象展开为字符串映射，非字符串值以其 JSON 形式保留。
func decodeArgs(raw json.RawMessage) (map[string]string, error) {
	out := map[string]string{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if string(bytes.TrimSpace(v)) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
