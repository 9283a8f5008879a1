package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/goliatone/go-dispatch/core"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultLLMSystemPrompt = "Given an event payload and an action name, produce JSON arguments for the action.\nReturn ONLY JSON."

// Runner executes one routed action per call. It is the ActionRunner used by
// the processing pipeline; every mode is synchronous and wall-clock bounded.
type Runner struct {
	cfg      core.RunnerConfig
	baseDir  string
	registry *CommandRegistry
	llm      core.StructuredClient
	logger   core.Logger
}

type Option func(*Runner)

// WithStructuredClient enables llm handler mode.
func WithStructuredClient(client core.StructuredClient) Option {
	return func(r *Runner) {
		r.llm = client
	}
}

// WithBaseDir anchors relative command and agent paths. Defaults to the
// process working directory.
func WithBaseDir(dir string) Option {
	return func(r *Runner) {
		if strings.TrimSpace(dir) != "" {
			r.baseDir = dir
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func New(cfg core.RunnerConfig, opts ...Option) (*Runner, error) {
	r := &Runner{cfg: cfg, baseDir: "."}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = glog.Ensure(r.logger)

	registry, err := NewCommandRegistry(r.baseDir, cfg.CommandsPath)
	if err != nil {
		return nil, err
	}
	r.registry = registry
	return r, nil
}

// Run dispatches on the request's handler mode.
func (r *Runner) Run(ctx context.Context, req core.ActionRequest) (map[string]any, error) {
	if r == nil {
		return nil, fmt.Errorf("runner: runner is not configured")
	}
	mode, ok := core.NormalizeHandlerMode(string(req.HandlerMode))
	if !ok {
		return nil, fmt.Errorf("runner: unsupported handler mode %q", req.HandlerMode)
	}

	switch mode {
	case core.HandlerModeNoop:
		return map[string]any{"mode": "noop", "action": req.Action}, nil
	case core.HandlerModeCommand:
		return r.runCommand(ctx, req)
	case core.HandlerModeAgent:
		return r.runAgent(ctx, req)
	case core.HandlerModeLLM:
		return r.runLLM(ctx, req)
	}
	return nil, fmt.Errorf("runner: unsupported handler mode %q", req.HandlerMode)
}

// actionInput is the JSON document every subprocess and LLM call receives:
// the action name, the routing snapshot, and the raw payload envelope.
func actionInput(req core.ActionRequest) map[string]any {
	return map[string]any{
		"action":  req.Action,
		"router":  req.Decision.Summary(),
		"payload": req.Payload,
	}
}

func (r *Runner) runCommand(ctx context.Context, req core.ActionRequest) (map[string]any, error) {
	argv, err := r.registry.Resolve(req.HandlerTarget)
	if err != nil {
		return nil, err
	}
	stdin, err := json.Marshal(actionInput(req))
	if err != nil {
		return nil, fmt.Errorf("runner: encode command input: %w", err)
	}
	r.logger.Debug("running command handler", "action", req.Action, "target", req.HandlerTarget)
	return runSubprocess(ctx, argv, stdin, 0)
}

func (r *Runner) runAgent(ctx context.Context, req core.ActionRequest) (map[string]any, error) {
	target := strings.TrimSpace(req.HandlerTarget)
	if target == "" {
		return nil, fmt.Errorf("runner: handler target is required for agent mode")
	}
	if strings.TrimSpace(r.cfg.AgentCommand) == "" {
		return nil, fmt.Errorf("runner: agent command is not configured")
	}

	promptPath, err := r.resolveAgentPrompt(target)
	if err != nil {
		return nil, err
	}
	stdin, err := json.Marshal(actionInput(req))
	if err != nil {
		return nil, fmt.Errorf("runner: encode agent input: %w", err)
	}

	argv := append(strings.Fields(r.cfg.AgentCommand), "--agent", promptPath)
	r.logger.Debug("running agent handler",
		"action", req.Action,
		"agent", target,
		"timeout", r.cfg.AgentTimeout().String(),
	)
	return runSubprocess(ctx, argv, stdin, r.cfg.AgentTimeout())
}

// resolveAgentPrompt maps a bare agent name onto <agent_dir>/<name>.md;
// explicit paths (containing a separator or .md suffix) are taken as given
// but still confined to the base directory.
func (r *Runner) resolveAgentPrompt(target string) (string, error) {
	path := target
	if !strings.HasSuffix(path, ".md") && !strings.Contains(path, "/") {
		path = filepath.Join(r.cfg.AgentDir, target+".md")
	}
	full, err := safeJoin(r.baseDir, path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("runner: agent prompt %s: %w", path, err)
	}
	return full, nil
}

func (r *Runner) runLLM(ctx context.Context, req core.ActionRequest) (map[string]any, error) {
	if r.llm == nil {
		return nil, fmt.Errorf("runner: llm handler mode requires a structured client")
	}
	prompt, err := json.Marshal(actionInput(req))
	if err != nil {
		return nil, fmt.Errorf("runner: encode llm input: %w", err)
	}
	systemPrompt := strings.TrimSpace(r.cfg.LLMSystemPrompt)
	if systemPrompt == "" {
		systemPrompt = defaultLLMSystemPrompt
	}
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": true,
	}
	return r.llm.GenerateStructured(ctx, systemPrompt, string(prompt), schema)
}

// runSubprocess executes argv with stdin on its standard input. A zero
// timeout leaves the context bound only by the caller. Stdout that parses as
// a JSON object becomes the result; anything else is wrapped verbatim.
func runSubprocess(ctx context.Context, argv []string, stdin []byte, timeout time.Duration) (map[string]any, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("runner: empty argv")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("runner: %s timed out after %s", argv[0], timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return nil, fmt.Errorf("runner: %s failed: %w: %s", argv[0], err, detail)
	}

	out := strings.TrimSpace(stdout.String())
	if out != "" {
		var doc map[string]any
		if err := json.Unmarshal([]byte(out), &doc); err == nil {
			return doc, nil
		}
	}
	return map[string]any{
		"stdout": out,
		"stderr": strings.TrimSpace(stderr.String()),
	}, nil
}

var _ core.ActionRunner = (*Runner)(nil)
