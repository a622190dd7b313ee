package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/ryansmccoy/spine-core-sub000/internal/domain"
	"github.com/ryansmccoy/spine-core-sub000/internal/registry"
)

// ProcessPool runs a WorkSpec's handler in a fresh OS process — used for
// handlers that need isolation from the worker's memory space (handlers
// that might leak, segfault via cgo, or use a one-off interpreter). The
// handler is referenced by its "kind:name" ref (the name may itself be a
// dotted path such as package.Function) and invoked through a small
// runner binary that knows how to dispatch such refs;
// ProcessPool itself only deals with encoding the payload to the child's
// stdin and decoding its stdout as JSON.
type ProcessPool struct {
	runnerPath string
}

// NewProcessPool returns a pool that spawns runnerPath for every
// submission — runnerPath is expected to read a JSON envelope
// {"handler_ref": "...", "payload": {...}} from stdin and write
// {"output": {...}, "error": "..."} to stdout.
func NewProcessPool(runnerPath string) *ProcessPool {
	return &ProcessPool{runnerPath: runnerPath}
}

type processRequest struct {
	HandlerRef string         `json:"handler_ref"`
	Payload    map[string]any `json:"payload"`
}

type processResponse struct {
	Output map[string]any `json:"output"`
	Error  string         `json:"error"`
}

func (p *ProcessPool) Submit(ctx context.Context, spec domain.WorkSpec, _ *registry.Registry) (*Result, bool, error) {
	reqBody, err := json.Marshal(processRequest{HandlerRef: handlerRef(spec), Payload: spec.Payload})
	if err != nil {
		return nil, true, fmt.Errorf("marshal process request: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.runnerPath)
	cmd.Stdin = bytes.NewReader(reqBody)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	runErr := cmd.Run()

	var resp processResponse
	if decodeErr := json.Unmarshal(stdout.Bytes(), &resp); decodeErr != nil {
		if runErr != nil {
			return &Result{Err: fmt.Errorf("process exited: %w", runErr)}, true, nil
		}
		return &Result{Err: fmt.Errorf("decode process output: %w", decodeErr)}, true, nil
	}

	res := &Result{Output: resp.Output}
	if resp.Error != "" {
		res.Err = fmt.Errorf("handler process error: %s", resp.Error)
	} else if runErr != nil {
		res.Err = fmt.Errorf("process exited: %w", runErr)
	}
	return res, true, nil
}
