package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"SmartBI-Agent/internal/llm"
	"SmartBI-Agent/internal/toolclient"
)

type scriptedLLM struct {
	replies  []string
	errs     []error
	requests []llm.Request
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	reply := ""
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return &llm.Response{Text: reply, Model: "stub-model"}, nil
}

type call struct {
	name string
	args map[string]any
}

type stubEngine struct {
	tools   []toolclient.Tool
	outputs map[string][]string
	fail    map[string]error
	calls   []call
}

func (s *stubEngine) Tools() []toolclient.Tool { return s.tools }

func (s *stubEngine) Stream(_ context.Context, name string, args map[string]any) <-chan toolclient.Fragment {
	s.calls = append(s.calls, call{name: name, args: args})
	ch := make(chan toolclient.Fragment, 8)
	go func() {
		defer close(ch)
		if err := s.fail[name]; err != nil {
			ch <- toolclient.Fragment{Err: err}
			return
		}
		for _, part := range s.outputs[name] {
			ch <- toolclient.Fragment{Text: part}
		}
	}()
	return ch
}

func newEngine() *stubEngine {
	return &stubEngine{
		tools: []toolclient.Tool{{Name: "load"}, {Name: "describe"}, {Name: "list"}, {Name: "run_script"}},
		outputs: map[string][]string{
			"list":     {"Loaded DataFrames:\n", "- sales: 3 rows × 3 columns\n"},
			"describe": {"DataFrame 'sales' Information:"},
		},
	}
}

func TestAnswerWithoutToolCalls(t *testing.T) {
	model := &scriptedLLM{replies: []string{"Hello there."}}
	engine := newEngine()
	o := New(model, engine)

	answer, err := o.Answer(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text != "Hello there." {
		t.Fatalf("unexpected answer: %q", answer.Text)
	}
	if len(model.requests) != 1 || len(engine.calls) != 0 {
		t.Fatalf("expected a single generation and no dispatch, got %d/%d", len(model.requests), len(engine.calls))
	}
	req := model.requests[0]
	if req.Turns[0].Role != llm.RoleSystem || req.Temperature != DefaultTemperature || req.MaxTokens != DefaultMaxTokens {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestAnswerSingleMarker(t *testing.T) {
	first := "Sure! [TOOL_CALL]list:{}[/TOOL_CALL] done."
	model := &scriptedLLM{replies: []string{first, "You have one dataset."}}
	engine := newEngine()
	o := New(model, engine)

	answer, err := o.Answer(context.Background(), "what is loaded?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.calls) != 1 || engine.calls[0].name != "list" || len(engine.calls[0].args) != 0 {
		t.Fatalf("expected one list call with empty args, got %+v", engine.calls)
	}
	listText := "Loaded DataFrames:\n- sales: 3 rows × 3 columns\n"
	want := first + "\n\n[Tool Result: list] " + listText + "\n\nYou have one dataset."
	if answer.Text != want {
		t.Fatalf("unexpected answer:\n got %q\nwant %q", answer.Text, want)
	}

	second := model.requests[1].Turns
	n := len(second)
	if second[n-2].Role != llm.RoleAssistant || second[n-2].Text != "I'll use the list tool." {
		t.Fatalf("unexpected assistant turn: %+v", second[n-2])
	}
	if second[n-1].Role != llm.RoleUser || second[n-1].Text != "Tool result: "+listText {
		t.Fatalf("unexpected tool result turn: %+v", second[n-1])
	}
}

func TestAnswerTwoMarkersInOrder(t *testing.T) {
	first := `[TOOL_CALL]describe:{"name": "sales"}[/TOOL_CALL] then [TOOL_CALL]list:{}[/TOOL_CALL]`
	model := &scriptedLLM{replies: []string{first, "ok"}}
	engine := newEngine()

	answer, err := New(model, engine).Answer(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.calls) != 2 || engine.calls[0].name != "describe" || engine.calls[1].name != "list" {
		t.Fatalf("unexpected dispatch order: %+v", engine.calls)
	}
	if engine.calls[0].args["name"] != "sales" {
		t.Fatalf("unexpected args: %+v", engine.calls[0].args)
	}
	describeAt := strings.Index(answer.Text, "[Tool Result: describe]")
	listAt := strings.Index(answer.Text, "[Tool Result: list]")
	if describeAt < 0 || listAt < 0 || describeAt > listAt {
		t.Fatalf("results out of order:\n%s", answer.Text)
	}
}

func TestAnswerMalformedJSONDoesNotBlockOthers(t *testing.T) {
	first := `[TOOL_CALL]load:{bad}[/TOOL_CALL] [TOOL_CALL]list:{}[/TOOL_CALL]`
	model := &scriptedLLM{replies: []string{first, "final"}}
	engine := newEngine()

	answer, err := New(model, engine).Answer(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.calls) != 1 || engine.calls[0].name != "list" {
		t.Fatalf("only list should be dispatched, got %+v", engine.calls)
	}
	if len(answer.Results) != 2 || !strings.HasPrefix(answer.Results[0], "Error executing tool load: ") {
		t.Fatalf("unexpected results: %q", answer.Results)
	}
	if !strings.HasPrefix(answer.Results[1], "[Tool Result: list]") {
		t.Fatalf("list result missing: %q", answer.Results)
	}
	turns := model.requests[1].Turns
	found := false
	for _, turn := range turns {
		if turn.Role == llm.RoleUser && strings.HasPrefix(turn.Text, "Error: Error executing tool load: ") {
			found = true
		}
	}
	if !found {
		t.Fatalf("error turn missing from follow-up conversation")
	}
}

func TestAnswerDispatchFailureIsRecovered(t *testing.T) {
	model := &scriptedLLM{replies: []string{`[TOOL_CALL]nope:{}[/TOOL_CALL]`, "sorry"}}
	engine := newEngine()
	engine.fail = map[string]error{"nope": errors.New("unknown tool \"nope\"")}

	answer, err := New(model, engine).Answer(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(answer.Text, `Error executing tool nope: unknown tool "nope"`) {
		t.Fatalf("dispatch error not surfaced: %q", answer.Text)
	}
	if !strings.HasSuffix(answer.Text, "\n\nsorry") {
		t.Fatalf("second generation missing: %q", answer.Text)
	}
}

func TestAnswerGenerationFailureSurrogate(t *testing.T) {
	model := &scriptedLLM{errs: []error{errors.New("503 upstream")}}
	answer, err := New(model, newEngine()).Answer(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.Text != "Error: 503 upstream" {
		t.Fatalf("unexpected surrogate: %q", answer.Text)
	}
}

func TestAnswerNormalizesHistory(t *testing.T) {
	var history []Message
	raw := `[{"role":"user","content":"first"},{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"image"},{"type":"text","text":"b"}]}]`
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	model := &scriptedLLM{replies: []string{"ok"}}
	if _, err := New(model, newEngine()).Answer(context.Background(), "next", history); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	turns := model.requests[0].Turns
	if len(turns) != 4 {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	if turns[2].Role != llm.RoleAssistant || turns[2].Text != "a b" {
		t.Fatalf("mixed content not flattened: %+v", turns[2])
	}
	if turns[3].Text != "next" {
		t.Fatalf("query should be the last turn: %+v", turns[3])
	}
}

func TestAnswerRejectsEmptyQuery(t *testing.T) {
	if _, err := New(&scriptedLLM{}, newEngine()).Answer(context.Background(), "  ", nil); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

type memoryRecorder struct {
	answers []*Answer
}

func (m *memoryRecorder) RecordAnswer(_ context.Context, a *Answer) error {
	m.answers = append(m.answers, a)
	return nil
}

func TestAnswerIsRecorded(t *testing.T) {
	rec := &memoryRecorder{}
	model := &scriptedLLM{replies: []string{"plain"}}
	o := New(model, newEngine(), WithRecorder(rec), WithModel("m1"))
	if _, err := o.Answer(context.Background(), "q", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.answers) != 1 || rec.answers[0].Query != "q" || rec.answers[0].Model != "stub-model" {
		t.Fatalf("unexpected recording: %+v", rec.answers)
	}
	if model.requests[0].Model != "m1" {
		t.Fatalf("model option not applied: %q", model.requests[0].Model)
	}
}

func TestBuildSystemPromptSkipsUnknownTools(t *testing.T) {
	prompt := BuildSystemPrompt([]toolclient.Tool{{Name: "list"}, {Name: "mystery"}})
	if !strings.HasPrefix(prompt, promptHeader) || !strings.HasSuffix(prompt, promptFooter) {
		t.Fatalf("header or footer missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[TOOL_CALL]list:{}[/TOOL_CALL]") {
		t.Fatalf("list template missing:\n%s", prompt)
	}
	if strings.Contains(prompt, "mystery") || strings.Contains(prompt, "- load:") {
		t.Fatalf("unexpected tool in prompt:\n%s", prompt)
	}
}

func TestCallDispatchesDirectly(t *testing.T) {
	engine := newEngine()
	o := New(&scriptedLLM{}, engine)
	out, err := o.Call(context.Background(), "list", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "Loaded DataFrames:") || len(engine.calls) != 1 {
		t.Fatalf("unexpected output: %q", out)
	}
	engine.fail = map[string]error{"load": errors.New("boom")}
	if _, err := o.Call(context.Background(), "load", map[string]any{"path": "x.csv"}); err == nil {
		t.Fatalf("expected error from failing tool")
	}
}

func TestConversation(t *testing.T) {
	c := NewConversation()
	c.Add(llm.RoleUser, "q")
	c.Add(llm.RoleAssistant, "a")
	if c.Len() != 2 || c.History()[1].Content.Text() != "a" {
		t.Fatalf("unexpected history: %+v", c.History())
	}
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("reset did not clear history")
	}
}
