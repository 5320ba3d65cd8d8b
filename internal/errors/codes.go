package errors

import (
	"sort"
	"sync"
)

// 分析链路的错误分类。数据集、脚本、解析、生成与分发各自对应一个码，
// 编排器据此决定是把错误文本写回对话让模型自行修正，还是终止本轮。
const (
	CodeLoad            Code = "LOAD_ERROR"
	CodeDatasetNotFound Code = "DATASET_NOT_FOUND"
	CodeScript          Code = "SCRIPT_ERROR"
	CodeScriptTimeout   Code = "SCRIPT_TIMEOUT"
	CodeScriptPolicy    Code = "SCRIPT_POLICY_INVALID"
	CodeParse           Code = "PARSE_ERROR"
	CodeGeneration      Code = "GENERATION_ERROR"
	CodeConnect         Code = "CONNECT_ERROR"
	CodeDispatch        Code = "DISPATCH_ERROR"
)

// 服务层通用错误码。
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
)

// Stage 标记错误码所属的处理阶段，日志与告警按阶段聚合。
type Stage string

const (
	StageInput    Stage = "input"
	StageAnalysis Stage = "analysis"
	StageModel    Stage = "model"
	StageEngine   Stage = "engine"
	StageService  Stage = "service"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Stage     Stage
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeLoad:            {Message: "failed to load dataset", Severity: SeverityInfo, Stage: StageInput},
		CodeDatasetNotFound: {Message: "dataset not found", Severity: SeverityInfo, Stage: StageInput},
		// 脚本错误会以 traceback 形式回到对话，由模型修正后重试，
		// 因此不在任务层重试。
		CodeScript:        {Message: "script execution failed", Severity: SeverityInfo, Stage: StageAnalysis},
		CodeScriptTimeout: {Message: "script execution timed out", Severity: SeverityWarning, Stage: StageAnalysis},
		CodeScriptPolicy:  {Message: "invalid script policy", Severity: SeverityCritical, Stage: StageAnalysis, Alert: true},
		CodeParse:         {Message: "invalid tool call arguments", Severity: SeverityInfo, Stage: StageModel},
		CodeGeneration:    {Message: "language model generation failed", Severity: SeverityWarning, Stage: StageModel, Retryable: true},
		CodeConnect:       {Message: "failed to connect to execution engine", Severity: SeverityCritical, Stage: StageEngine, Alert: true},
		CodeDispatch:      {Message: "tool dispatch failed", Severity: SeverityWarning, Stage: StageEngine, Retryable: true},

		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Stage: StageService, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Stage: StageInput},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, Stage: StageInput},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning, Stage: StageService},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Stage: StageService, Retryable: true, Alert: true},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Stage: StageService, Retryable: true, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Stage: StageService, Retryable: true, Alert: true},
		CodeUpstreamFailure:       {Message: "upstream service failure", Severity: SeverityWarning, Stage: StageModel, Retryable: true},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
// 未指定 Stage 时归入 service。
func Register(code Code, attr Attributes) {
	if attr.Stage == "" {
		attr.Stage = StageService
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// Registered 返回当前已注册的全部错误码，按字母序排列。
func Registered() []Code {
	registryMu.RLock()
	defer registryMu.RUnlock()
	codes := make([]Code, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}
