package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/observability/metrics"
	"SmartBI-Agent/internal/orchestrator"
	"SmartBI-Agent/internal/toolclient"
	"SmartBI-Agent/pkg/logger"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// answerer 是交互循环需要的编排能力。
type answerer interface {
	Answer(ctx context.Context, query string, history []orchestrator.Message) (*orchestrator.Answer, error)
}

func newChatCommand(root *rootOptions) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "交互式问答，输入 quit 退出，reset 清空历史",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if err := initLogger(cfg, "stderr"); err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			client, err := newLLMClient(ctx, cfg, metrics.Default())
			if err != nil {
				return err
			}
			orch, err := connectOrchestrator(ctx, cfg, client)
			if err != nil {
				return err
			}
			defer orch.Close()

			render := func(s string) string { return s }
			if !plain {
				renderer, err := glamour.NewTermRenderer(
					glamour.WithStandardStyle("dark"),
					glamour.WithWordWrap(0),
				)
				if err == nil {
					render = func(s string) string {
						out, err := renderer.Render(s)
						if err != nil {
							return s
						}
						return strings.TrimSpace(out)
					}
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("SmartBI chat"))
			fmt.Fprintf(out, "Connected to engine with tools: %s\n", toolNames(orch.Tools()))
			fmt.Fprintln(out, noticeStyle.Render("Type your queries or 'quit' to exit, 'reset' to clear history."))
			return chatLoop(ctx, orch, cmd.InOrStdin(), out, render)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "不使用 Markdown 渲染输出")
	return cmd
}

// chatLoop 逐行读取输入并维护会话历史。
func chatLoop(ctx context.Context, a answerer, in io.Reader, out io.Writer, render func(string) string) error {
	conv := orchestrator.NewConversation()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, promptStyle.Render("\nQuery: "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(query) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "reset":
			conv.Reset()
			fmt.Fprintln(out, noticeStyle.Render("Conversation history cleared."))
			continue
		}

		answer, err := a.Answer(ctx, query, conv.History())
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render("Error: "+err.Error()))
			continue
		}
		conv.Add(llm.RoleUser, query)
		conv.Add(llm.RoleAssistant, answer.Text)
		fmt.Fprintln(out, "\n"+render(answer.Text))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func toolNames(tools []toolclient.Tool) string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return "[" + strings.Join(names, ", ") + "]"
}
