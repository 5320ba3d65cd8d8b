package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	xerrors "SmartBI-Agent/internal/errors"
)

type stubClient struct {
	reply string
	err   error
	last  Request
}

func (s *stubClient) Generate(_ context.Context, req Request) (*Response, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Text: s.reply, Model: req.Model, Elapsed: 5 * time.Millisecond}, nil
}

func TestCleanCSV(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{name: "plain", reply: "a,b\n1,2", want: "a,b\n1,2"},
		{name: "fenced", reply: "Here:\n```\na,b\n1,2\n```\nDone", want: "a,b\n1,2"},
		{name: "csv tagged fence skipped", reply: "```csv\nx\n```\n```\na,b\n1,2\n```", want: "a,b\n1,2"},
		{name: "no comma", reply: "I cannot read this image.", want: ExtractionFailure},
		{name: "empty", reply: "", want: ExtractionFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCSV(tt.reply); got != tt.want {
				t.Fatalf("CleanCSV() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractSendsImage(t *testing.T) {
	stub := &stubClient{reply: "a,b\n1,2"}
	png := []byte("\x89PNG\r\n\x1a\nrest")
	got := NewCSVExtractor(stub, "vision-model").Extract(context.Background(), png)
	if got != "a,b\n1,2" {
		t.Fatalf("unexpected csv: %q", got)
	}
	if stub.last.Temperature != 0 || stub.last.MaxTokens != 4000 || stub.last.Model != "vision-model" {
		t.Fatalf("unexpected request: %+v", stub.last)
	}
	turn := stub.last.Turns[0]
	if turn.Text != ExtractionPrompt || len(turn.Images) != 1 || turn.Images[0].MIME != "image/png" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
}

func TestExtractFailureIsText(t *testing.T) {
	stub := &stubClient{err: errors.New("rate limited")}
	got := NewCSVExtractor(stub, "").Extract(context.Background(), []byte("jpeg"))
	if got != "Error: rate limited" || !IsExtractionError(got) {
		t.Fatalf("unexpected failure text: %q", got)
	}
}

func TestPrompterModes(t *testing.T) {
	stub := &stubClient{reply: "Paris"}
	p := NewPrompter(stub, "llama-3.2-90b-vision-preview")

	text := p.Text(context.Background(), "capital of France?", "")
	if text.Response != "Paris" || text.PromptType != PromptTextOnly || text.Model != "llama-3.2-90b-vision-preview" {
		t.Fatalf("unexpected text result: %+v", text)
	}

	only := p.Multimodal(context.Background(), "", []byte("img"), "chart.png", "")
	if only.PromptType != PromptImageOnly || only.Prompt != DefaultImagePrompt {
		t.Fatalf("unexpected image-only result: %+v", only)
	}
	if stub.last.Turns[0].Images[0].MIME != "image/png" {
		t.Fatalf("mime should follow filename: %+v", stub.last.Turns[0].Images[0])
	}

	rejected := p.Multimodal(context.Background(), "what?", []byte("img"), "x.jpg", "llama-3.1-8b")
	if !rejected.Failed || !strings.Contains(rejected.Response, "vision") {
		t.Fatalf("non-vision model should be rejected: %+v", rejected)
	}

	stub.err = errors.New("down")
	failed := p.Text(context.Background(), "hi", "m")
	if !failed.Failed || failed.Response != "Error: down" || failed.ElapsedMS != 0 {
		t.Fatalf("unexpected failure result: %+v", failed)
	}
}

func TestSplitSystemAndGenerationError(t *testing.T) {
	system, rest := SplitSystem([]Turn{
		{Role: RoleSystem, Text: "rules"},
		{Role: RoleUser, Text: "hi"},
	})
	if system != "rules" || len(rest) != 1 || rest[0].Role != RoleUser {
		t.Fatalf("unexpected split: %q %+v", system, rest)
	}

	err := GenerationError("groq", errors.New("401"))
	if xerrors.CodeOf(err) != CodeGeneration {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
	if GenerationError("groq", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObserveGeneration(provider, outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, provider+":"+outcome)
}

func TestInstrumentRecordsOutcome(t *testing.T) {
	obs := &recordingObserver{}
	stub := &stubClient{reply: "ok"}
	client := Instrument(stub, "groq", obs, nil)

	if _, err := client.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stub.err = errors.New("boom")
	if _, err := client.Generate(context.Background(), Request{}); err == nil {
		t.Fatalf("expected error")
	}
	if strings.Join(obs.outcomes, ",") != "groq:ok,groq:error" {
		t.Fatalf("unexpected outcomes: %v", obs.outcomes)
	}
}
