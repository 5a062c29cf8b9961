// =============================================================================
// AgentGraph 主入口
// =============================================================================
// 工作流模板校验服务与执行监控命令行
//
// 使用方法:
//
//	agentgraph serve --config config.yaml           # 启动校验 API 服务
//	agentgraph validate workflow.yaml               # 校验模板文件
//	agentgraph analyze workflow.json                # 输出依赖分析
//	agentgraph watch <execution-id>                 # 跟踪执行事件流
//	agentgraph respond <execution-id> <id> approve  # 响应人工干预
//	agentgraph version                              # 显示版本信息
//	agentgraph health                               # 健康检查
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// 退出码
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1], os.Args[2:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 分发子命令并返回退出码
func run(ctx context.Context, cmd string, args []string, stdout, stderr io.Writer) int {
	switch cmd {
	case "serve":
		return runServe(ctx, args, stderr)
	case "validate":
		return runValidate(ctx, args, stdout, stderr)
	case "analyze":
		return runAnalyze(args, stdout, stderr)
	case "watch":
		return runWatch(ctx, args, stdout, stderr)
	case "respond":
		return runRespond(ctx, args, stdout, stderr)
	case "version":
		printVersion(stdout)
		return exitOK
	case "health":
		return runHealthCheck(ctx, args, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		printUsage(stderr)
		return exitUsage
	}
}

var (
	collectorOnce sync.Once
	collector     *metrics.Collector
)

// sharedCollector 返回进程内唯一的指标收集器，指标注册在默认 Registry 上
func sharedCollector(logger *zap.Logger) *metrics.Collector {
	collectorOnce.Do(func() {
		collector = metrics.NewCollector("agentgraph", logger)
	})
	return collector
}

// loadConfig 加载并校验配置，path 为空时只使用默认值与环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newFlagSet 创建带 --config 参数的子命令 FlagSet
func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	return fs, configPath
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *addr+"/health", nil)
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return exitFailure
	}
	resp, err := tlsutil.SecureHTTPClient(5 * time.Second).Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return exitFailure
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return exitFailure
	}

	fmt.Fprintln(stdout, "OK")
	return exitOK
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "AgentGraph %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `AgentGraph - multi-agent workflow toolkit

Usage:
  agentgraph <command> [options]

Commands:
  serve      Start the validation API server
  validate   Validate a workflow template or graph document
  analyze    Print the dependency analysis of a workflow template
  watch      Follow the event stream of an execution
  respond    Answer a pending human intervention
  version    Show version information
  health     Check server health
  help       Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Examples:
  agentgraph serve --config /etc/agentgraph/config.yaml
  agentgraph validate --format json workflow.yaml
  agentgraph validate --graph graph.json
  agentgraph analyze workflow.yaml
  agentgraph watch --transport websocket 3f2a9c1e
  agentgraph respond --feedback "looks good" 3f2a9c1e int-1 approve
  agentgraph health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// parseLevel 解析日志级别，未知值回退到 info
func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initLogger 按配置构建 logger，返回的 AtomicLevel 用于热重载日志级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger, level
}
