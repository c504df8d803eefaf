package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultProtocolVersion is the MCP protocol version used when none is
// configured.
const DefaultProtocolVersion = "2024-11-05"

// StdioOptions configures a stdio-transport MCP server process.
type StdioOptions struct {
	Command         string
	Args            []string
	Env             []string
	Dir             string
	ProtocolVersion string
	ClientName      string
	ClientVersion   string
	InitTimeout     time.Duration
}

// StdioCaller implements Caller by launching opts.Command as a subprocess
// and speaking MCP over its stdio via an rpcConn. It owns process lifecycle
// only; framing and call/response demultiplexing live in rpcConn.
type StdioCaller struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	conn  *rpcConn

	closeOnce sync.Once
}

// NewStdioCaller launches opts.Command, performs the MCP initialize
// handshake, and returns a Caller bound to its stdio session.
func NewStdioCaller(ctx context.Context, opts StdioOptions) (*StdioCaller, error) {
	if opts.Command == "" {
		return nil, errors.New("mcpbridge: command is required")
	}
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: stdout pipe: %w", err)
	}
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcpbridge: start %q: %w", opts.Command, err)
	}

	c := &StdioCaller{cmd: cmd, stdin: stdin}
	c.conn = newRPCConn(stdin)
	c.conn.onFail = func() { _ = c.Close() }
	go c.conn.pump(stdout)
	if stderr != nil {
		go io.Copy(io.Discard, stderr)
	}
	if err := c.initialize(ctx, opts); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("mcpbridge: initialize: %w", err)
	}
	return c, nil
}

// Close terminates the server process and releases resources. Safe to call
// more than once.
func (c *StdioCaller) Close() error {
	c.closeOnce.Do(func() {
		if c.stdin != nil {
			_ = c.stdin.Close()
		}
		if c.cmd != nil && c.cmd.ProcessState == nil {
			_ = c.cmd.Process.Kill()
		}
		if c.cmd != nil {
			_ = c.cmd.Wait()
		}
	})
	return nil
}

func (c *StdioCaller) initialize(ctx context.Context, opts StdioOptions) error {
	protocol := opts.ProtocolVersion
	if protocol == "" {
		protocol = DefaultProtocolVersion
	}
	clientName := opts.ClientName
	if clientName == "" {
		clientName = "claij"
	}
	clientVersion := opts.ClientVersion
	if clientVersion == "" {
		clientVersion = "dev"
	}
	payload := map[string]any{
		"protocolVersion": protocol,
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	initCtx := ctx
	if opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, opts.InitTimeout)
		defer cancel()
	}
	_, err := c.conn.request(initCtx, "initialize", payload)
	return err
}

// CallTool invokes tools/call over the stdio transport and normalizes the
// server's content blocks into a CallResponse.
func (c *StdioCaller) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	params := map[string]any{
		"name":      req.Tool,
		"arguments": json.RawMessage(req.Payload),
	}
	raw, err := c.conn.request(ctx, "tools/call", params)
	if err != nil {
		return CallResponse{}, err
	}
	var result toolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return CallResponse{}, fmt.Errorf("mcpbridge: decode tools/call result: %w", err)
	}
	return normalizeToolResult(result)
}

// toolsCallResult is the MCP tools/call success payload: an ordered list of
// text content blocks.
type toolsCallResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError"`
}

type contentItem struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

// normalizeToolResult collapses an MCP tools/call result's content blocks
// into the flat Result/Structured shape CallResponse expects, using the
// first block: JSON text is passed through as Result as-is and also
// populates Structured; plain text is re-encoded as a JSON string and
// leaves Structured unset.
func normalizeToolResult(result toolsCallResult) (CallResponse, error) {
	if len(result.Content) == 0 {
		return CallResponse{}, errors.New("mcpbridge: empty MCP response")
	}
	item := result.Content[0]
	if item.Text == nil {
		return CallResponse{}, errors.New("mcpbridge: tool returned no content")
	}

	text := []byte(*item.Text)
	if json.Valid(text) {
		payload := append(json.RawMessage(nil), text...)
		return CallResponse{Result: payload, Structured: payload}, nil
	}
	marshaled, err := json.Marshal(*item.Text)
	if err != nil {
		return CallResponse{}, fmt.Errorf("mcpbridge: encode tool text content: %w", err)
	}
	return CallResponse{Result: marshaled}, nil
}
