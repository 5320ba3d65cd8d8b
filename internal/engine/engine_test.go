package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const salesCSV = "region,units,price\nnorth,10,2.5\nsouth,20,3.5\nnorth,30,4.0\n"

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) ObserveTool(tool string, outcome Outcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tool+":"+string(outcome))
}

func TestLoadSummaryAndAutoNaming(t *testing.T) {
	e := New()
	path := writeCSV(t, "sales.csv", salesCSV)

	got := e.Load(context.Background(), path, "")
	want := "Successfully loaded " + path + " as 'df_1'.\nShape: 3 rows x 3 columns\nColumns: region, units, price\nFirst 5 rows preview available in memory."
	if got != want {
		t.Fatalf("unexpected load text:\n got %q\nwant %q", got, want)
	}

	named := e.Load(context.Background(), path, "sales")
	if !strings.Contains(named, "as 'sales'") {
		t.Fatalf("expected explicit name, got %q", named)
	}
	if second := e.Load(context.Background(), path, ""); !strings.Contains(second, "as 'df_2'") {
		t.Fatalf("expected df_2, got %q", second)
	}
}

func TestLoadFailureIsText(t *testing.T) {
	obs := &recordingObserver{}
	e := New(WithObserver(obs))

	got := e.Load(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), "x")
	if !strings.HasPrefix(got, "Error loading CSV: ") {
		t.Fatalf("unexpected load failure text: %q", got)
	}
	if e.Registry().Len() != 0 {
		t.Fatalf("failed load must not register a dataset")
	}
	if len(obs.calls) != 1 || obs.calls[0] != "load:error" {
		t.Fatalf("unexpected observations: %v", obs.calls)
	}
}

func TestDescribeAndNotFound(t *testing.T) {
	e := New()
	path := writeCSV(t, "sales.csv", salesCSV)
	e.Load(context.Background(), path, "sales")

	got := e.Describe(context.Background(), "sales")
	for _, part := range []string{
		"DataFrame 'sales' Information:\n\n",
		"\n\nDescriptive Statistics:\n",
		"\n\nCorrelation Matrix:\n",
	} {
		if !strings.Contains(got, part) {
			t.Fatalf("describe output missing %q:\n%s", part, got)
		}
	}

	missing := e.Describe(context.Background(), "nope")
	if missing != "Error: DataFrame 'nope' not found. Available DataFrames: ['sales']" {
		t.Fatalf("unexpected not-found text: %q", missing)
	}
}

func TestDescribeSkipsCorrelationForSingleNumericColumn(t *testing.T) {
	e := New()
	path := writeCSV(t, "one.csv", "name,score\na,1\nb,2\n")
	e.Load(context.Background(), path, "one")

	if got := e.Describe(context.Background(), "one"); strings.Contains(got, "Correlation Matrix") {
		t.Fatalf("single numeric column must not produce a correlation matrix:\n%s", got)
	}
}

func TestListPreservesOrder(t *testing.T) {
	e := New()
	if got := e.List(context.Background()); got != EmptyRegistryMessage {
		t.Fatalf("unexpected empty list text: %q", got)
	}

	path := writeCSV(t, "sales.csv", salesCSV)
	e.Load(context.Background(), path, "b")
	e.Load(context.Background(), path, "a")

	want := "Loaded DataFrames:\n- b: 3 rows × 3 columns\n- a: 3 rows × 3 columns\n"
	if got := e.List(context.Background()); got != want {
		t.Fatalf("unexpected list text:\n got %q\nwant %q", got, want)
	}
}

func TestRunScriptResults(t *testing.T) {
	e := New()
	path := writeCSV(t, "sales.csv", salesCSV)
	e.Load(context.Background(), path, "sales")

	tests := []struct {
		name   string
		code   string
		want   string
		prefix bool
	}{
		{name: "stdout", code: `print(sales.shape)`, want: "(3, 3)\n"},
		{name: "return value", code: `_return_value = sales.sum("units")`, want: "60.0"},
		{name: "silent", code: `x = 1`, want: NoOutputSentinel},
		{name: "error", code: `1 // 0`, want: "Error executing script: ", prefix: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.RunScript(context.Background(), tt.code)
			if tt.prefix {
				if !strings.HasPrefix(got, tt.want) || !strings.Contains(got, "Traceback") {
					t.Fatalf("unexpected error text: %q", got)
				}
				return
			}
			if got != tt.want {
				t.Fatalf("unexpected result: got %q want %q", got, tt.want)
			}
		})
	}
}

func TestLoadHeaderOnlyThenDescribe(t *testing.T) {
	e := New()
	path := writeCSV(t, "empty.csv", "a,b\n")

	got := e.Load(context.Background(), path, "h")
	if !strings.Contains(got, "Shape: 0 rows x 2 columns") {
		t.Fatalf("unexpected load summary: %q", got)
	}
	desc := e.Describe(context.Background(), "h")
	if !strings.Contains(desc, "RangeIndex: 0 entries") || !strings.Contains(desc, "total 2 columns") {
		t.Fatalf("unexpected describe output:\n%s", desc)
	}
}

func TestRunScriptDoesNotRegisterLocals(t *testing.T) {
	e := New()
	e.Load(context.Background(), writeCSV(t, "sales.csv", salesCSV), "sales")

	e.RunScript(context.Background(), `derived = sales.head(1)`)
	if names := e.Registry().Names(); len(names) != 1 || names[0] != "sales" {
		t.Fatalf("script locals leaked into registry: %v", names)
	}
}

func TestDecodeArgs(t *testing.T) {
	args, err := decodeArgs([]byte(`{"path":"a.csv","name":null,"limit":5}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args["path"] != "a.csv" || args["limit"] != "5" {
		t.Fatalf("unexpected args: %v", args)
	}
	if _, ok := args["name"]; ok {
		t.Fatalf("null values should be dropped: %v", args)
	}
	spaced, err := decodeArgs([]byte(`{"name": null , "path":"b.csv"}`))
	if err != nil || len(spaced) != 1 || spaced["path"] != "b.csv" {
		t.Fatalf("unexpected args: %v %v", spaced, err)
	}
	if _, err := decodeArgs([]byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for non-object arguments")
	}
}

func connect(t *testing.T, e *Engine) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	server := NewServer(e, "test", nil)
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callText(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	var b strings.Builder
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), res.IsError
}

func TestServerExposesTools(t *testing.T) {
	session := connect(t, New())

	res, err := session.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{ToolLoad, ToolDescribe, ToolList, ToolRunScript} {
		if !names[want] {
			t.Fatalf("tool %s not advertised: %v", want, names)
		}
	}
}

func TestServerRoundTrip(t *testing.T) {
	session := connect(t, New())
	path := writeCSV(t, "sales.csv", salesCSV)

	text, isErr := callText(t, session, ToolLoad, map[string]any{"path": path, "name": "sales"})
	if isErr || !strings.HasPrefix(text, "Successfully loaded") {
		t.Fatalf("unexpected load result: %q", text)
	}
	text, _ = callText(t, session, ToolRunScript, map[string]any{"code": `print(sales.mean("units"))`})
	if text != "20.0\n" {
		t.Fatalf("unexpected script result: %q", text)
	}
	text, _ = callText(t, session, ToolList, nil)
	if !strings.Contains(text, "- sales: 3 rows × 3 columns") {
		t.Fatalf("unexpected list result: %q", text)
	}
	text, isErr = callText(t, session, ToolDescribe, map[string]any{})
	if !isErr || !strings.Contains(text, "missing required argument 'name'") {
		t.Fatalf("expected missing argument result, got %q", text)
	}
}
