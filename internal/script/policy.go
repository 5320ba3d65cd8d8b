package script

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "SmartBI-Agent/internal/errors"
)

// Policy 描述脚本可使用的模块白名单与执行预算。
type Policy struct {
	AllowedModules []string `yaml:"allowed_modules"`
	DeniedModules  []string `yaml:"denied_modules"`
	MaxSteps       uint64   `yaml:"max_steps"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// DefaultMaxSteps 约等于数秒的纯计算量。
const DefaultMaxSteps uint64 = 50_000_000

// DefaultPolicy 返回内置策略：开放全部已知模块。
func DefaultPolicy() Policy {
	return Policy{
		AllowedModules: KnownModules(),
		MaxSteps:       DefaultMaxSteps,
	}
}

// Merge 使用 other 填充当前策略中未设置的字段。
func (p Policy) Merge(other Policy) Policy {
	if len(p.AllowedModules) == 0 {
		p.AllowedModules = other.AllowedModules
	}
	if len(p.DeniedModules) == 0 {
		p.DeniedModules = other.DeniedModules
	}
	if p.MaxSteps == 0 {
		p.MaxSteps = other.MaxSteps
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = other.TimeoutSeconds
	}
	return p
}

// Allows 判断模块是否可被脚本使用。显式拒绝优先于允许。
func (p Policy) Allows(module string) bool {
	if slices.Contains(p.DeniedModules, module) {
		return false
	}
	return slices.Contains(p.AllowedModules, module)
}

// Check 返回模块不可用的具体原因。
func (p Policy) Check(module string) error {
	if slices.Contains(p.DeniedModules, module) {
		return fmt.Errorf("module %q is explicitly denied", module)
	}
	if !slices.Contains(p.AllowedModules, module) {
		return fmt.Errorf("module %q not permitted", module)
	}
	return nil
}

// Validate 确认策略只引用已知模块。
func (p Policy) Validate() error {
	known := KnownModules()
	for _, list := range [][]string{p.AllowedModules, p.DeniedModules} {
		for _, m := range list {
			if !slices.Contains(known, m) {
				return xerrors.New(CodePolicy, fmt.Sprintf("unknown module %q, available: %s", m, strings.Join(known, ", ")))
			}
		}
	}
	return nil
}

// LoadPolicy 从 YAML 文件读取策略，未填写的字段回落到默认值。
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, xerrors.Wrap(CodePolicy, err, "读取脚本策略失败")
	}
	var policy Policy
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, xerrors.Wrap(CodePolicy, err, "解析脚本策略失败")
	}
	policy = policy.Merge(DefaultPolicy())
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}
