package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/validation"
)

// =============================================================================
// ✅ validate 命令
// =============================================================================

// runValidate 校验模板或图文档。模板无效时返回 exitFailure。
func runValidate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("validate", stderr)
	format := fs.String("format", "text", "Output format: text or json")
	graph := fs.Bool("graph", false, "Input is a persisted graph document (JSON)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: agentgraph validate [--graph] [--format text|json] <file>")
		return exitUsage
	}
	path := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid config: %v\n", err)
		return exitUsage
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read %s: %v\n", path, err)
		return exitUsage
	}

	engine := validation.New(validation.WithLimits(cfg.Validation))
	start := time.Now()
	var result *validation.Result
	if *graph {
		result = engine.ValidateGraphJSON(data)
	} else {
		tmpl, err := workflow.DecodeTemplate(data, workflow.FormatForPath(path))
		if err != nil {
			fmt.Fprintf(stderr, "Failed to parse %s: %v\n", path, err)
			return exitUsage
		}
		result = engine.ValidateContext(ctx, tmpl)
	}

	if *format == "json" {
		if err := writeJSON(stdout, api.ValidateResponse{
			Result:     result,
			DurationMs: time.Since(start).Milliseconds(),
		}); err != nil {
			fmt.Fprintf(stderr, "Failed to encode result: %v\n", err)
			return exitFailure
		}
	} else {
		printResult(stdout, path, result)
	}

	if !result.Valid {
		return exitFailure
	}
	return exitOK
}

func printResult(w io.Writer, path string, result *validation.Result) {
	if result.Valid {
		fmt.Fprintf(w, "%s: valid", path)
	} else {
		fmt.Fprintf(w, "%s: invalid", path)
	}
	fmt.Fprintf(w, " (%d errors, %d warnings)\n", len(result.Errors), len(result.Warnings))
	for _, issue := range result.Issues {
		fmt.Fprintf(w, "  %-7s %s: %s\n", issue.Severity, issue.Field, issue.Message)
	}
}

// =============================================================================
// 🔍 analyze 命令
// =============================================================================

// runAnalyze 输出规范图与结构分析
func runAnalyze(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "text", "Output format: text or json")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: agentgraph analyze [--format text|json] <file>")
		return exitUsage
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read %s: %v\n", path, err)
		return exitUsage
	}
	tmpl, err := workflow.DecodeTemplate(data, workflow.FormatForPath(path))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to parse %s: %v\n", path, err)
		return exitUsage
	}

	g, analysis := validation.Analyze(tmpl)
	if *format == "json" {
		if err := writeJSON(stdout, api.AnalyzeResponse{Graph: api.NewGraphView(g), Analysis: analysis}); err != nil {
			fmt.Fprintf(stderr, "Failed to encode analysis: %v\n", err)
			return exitFailure
		}
		return exitOK
	}
	printAnalysis(stdout, g, analysis)
	return exitOK
}

func printAnalysis(w io.Writer, g *workflow.Graph, a workflow.Analysis) {
	fmt.Fprintf(w, "mode: %s\n", g.Mode)
	fmt.Fprintf(w, "nodes: %s\n", strings.Join(g.Nodes, ", "))
	fmt.Fprintf(w, "edges: %d\n", len(g.Edges))
	for _, e := range g.Edges {
		line := fmt.Sprintf("  %s -> %s [%s]", e.FromNode, e.ToNode, e.ConditionType)
		if e.Condition != "" {
			line += " " + e.Condition
		}
		fmt.Fprintln(w, line)
	}

	if a.Cycles.HasCycle {
		fmt.Fprintf(w, "cycle: %s\n", strings.Join(a.Cycles.Nodes, " -> "))
	} else {
		fmt.Fprintln(w, "cycle: none")
		for i, level := range a.Levels.Levels {
			fmt.Fprintf(w, "level %d: %s\n", i, strings.Join(level, ", "))
		}
		fmt.Fprintf(w, "critical path: %s (%.1f min)\n",
			strings.Join(a.CriticalPath.Nodes, " -> "), a.CriticalPath.LengthMinutes)
	}

	if len(a.Reachability.Unreachable) > 0 {
		fmt.Fprintf(w, "unreachable from %s: %s\n", a.Reachability.Root, strings.Join(a.Reachability.Unreachable, ", "))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
