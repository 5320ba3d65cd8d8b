package toolclient

import (
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Command 描述以子进程方式启动的引擎。
type Command struct {
	Path    string
	Args    []string
	WorkDir string
	Env     []string
	// TerminateAfter 控制关闭标准输入后等待子进程退出的时长。
	TerminateAfter time.Duration
}

// NewCommandTransport 创建通过子进程标准输入输出通信的传输层。
func NewCommandTransport(cmd Command) mcp.Transport {
	command := exec.Command(cmd.Path, cmd.Args...)
	if cmd.WorkDir != "" {
		command.Dir = cmd.WorkDir
	}
	command.Env = append(os.Environ(), cmd.Env...)
	// 标准输出承载协议流，诊断信息走标准错误。
	command.Stderr = os.Stderr
	return &mcp.CommandTransport{Command: command, TerminateDuration: cmd.TerminateAfter}
}

// ResolvePath 根据工作目录推导可执行文件的绝对路径。
func ResolvePath(baseDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	if baseDir == "" || filepath.Base(path) == path {
		// 不含路径分隔符的命令交给 PATH 查找。
		return path
	}
	return filepath.Join(baseDir, path)
}
