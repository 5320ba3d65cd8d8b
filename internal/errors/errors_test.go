package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapFormatsCodeAndCause(t *testing.T) {
	cause := stdErrors.New("disk full")
	err := Wrap(CodeStorageFailure, cause, "写入失败")
	if got := err.Error(); got != "[STORAGE_FAILURE] 写入失败: disk full" {
		t.Fatalf("unexpected error string: %s", got)
	}
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach cause")
	}
	if !stdErrors.Is(err, New(CodeStorageFailure, "")) {
		t.Fatalf("expected errors.Is to match by code")
	}
}

func TestTextStripsCodes(t *testing.T) {
	inner := New(CodeInvalidArgument, "bad column")
	outer := Wrap(CodeScript, inner, "script failed")
	if got := Text(outer); got != "script failed: bad column" {
		t.Fatalf("unexpected text: %q", got)
	}
	if got := Text(fmt.Errorf("plain")); got != "plain" {
		t.Fatalf("unexpected text for plain error: %q", got)
	}
	if Text(nil) != "" {
		t.Fatalf("expected empty text for nil error")
	}
}

func TestRegisterOverridesAttributes(t *testing.T) {
	const code Code = "TEST_CUSTOM"
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Retryable: true, Alert: true})

	err := New(code, "")
	if err.Message() != "custom" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if !RetryableError(err) || !ShouldAlert(err) || SeverityOf(err) != SeverityWarning {
		t.Fatalf("registered attributes not applied: %+v", AttributesOf(code))
	}

	found := false
	for _, c := range Registered() {
		if c == code {
			found = true
		}
	}
	if !found {
		t.Fatalf("registered code missing from Registered()")
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeTimeout, "slow", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo), WithMetadata("tool", "run_script"))
	if err.Retryable() || err.ShouldAlert() || err.Severity() != SeverityInfo {
		t.Fatalf("options not honoured: %+v", err)
	}
	attrs := LogAttrs(err)
	var sawTool bool
	for _, attr := range attrs {
		if attr.Key == "tool" && attr.Value.String() == "run_script" {
			sawTool = true
		}
	}
	if !sawTool {
		t.Fatalf("metadata missing from log attrs: %v", attrs)
	}
}

func TestUnknownFallback(t *testing.T) {
	if CodeOf(stdErrors.New("x")) != CodeUnknown {
		t.Fatalf("expected unknown code for plain errors")
	}
	if AttributesOf("NOPE").Severity != SeverityCritical {
		t.Fatalf("expected unknown attributes for unregistered code")
	}
}

func TestAnalysisCatalog(t *testing.T) {
	tests := []struct {
		code      Code
		stage     Stage
		retryable bool
	}{
		{code: CodeLoad, stage: StageInput},
		{code: CodeDatasetNotFound, stage: StageInput},
		{code: CodeScript, stage: StageAnalysis},
		{code: CodeScriptTimeout, stage: StageAnalysis},
		{code: CodeParse, stage: StageModel},
		{code: CodeGeneration, stage: StageModel, retryable: true},
		{code: CodeDispatch, stage: StageEngine, retryable: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := Wrap(tt.code, stdErrors.New("cause"), "")
			if StageOf(err) != tt.stage {
				t.Fatalf("stage = %s, want %s", StageOf(err), tt.stage)
			}
			if RetryableError(err) != tt.retryable {
				t.Fatalf("retryable = %v, want %v", RetryableError(err), tt.retryable)
			}
			if err.Message() == "" {
				t.Fatalf("expected default message for %s", tt.code)
			}
		})
	}
}

func TestPlainErrorsAreNotRetried(t *testing.T) {
	err := stdErrors.New("boom")
	if RetryableError(err) || ShouldAlert(err) {
		t.Fatalf("plain errors must not be retried or alerted")
	}
	if StageOf(err) != StageService {
		t.Fatalf("unexpected stage for plain error: %s", StageOf(err))
	}
}

func TestRegisterDefaultsStage(t *testing.T) {
	const code Code = "TEST_NO_STAGE"
	Register(code, Attributes{Message: "no stage"})
	if AttributesOf(code).Stage != StageService {
		t.Fatalf("expected service stage, got %q", AttributesOf(code).Stage)
	}
}
