package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/tOgg1/sshmcp/internal/logging"
	"github.com/tOgg1/sshmcp/internal/ssh"
)

// ErrSessionIDRequired is returned by disconnect without a sessionId.
var ErrSessionIDRequired = errors.New("sessionId is required")

// missingCommand is the diagnostic result for an exec call with no command text.
type missingCommand struct {
	Error    string         `json:"error"`
	Received map[string]any `json:"received"`
	RawType  string         `json:"rawType"`
}

type disconnectResult struct {
	Disconnected bool `json:"disconnected"`
}

type listSessionsResult struct {
	Sessions []string `json:"sessions"`
}

func (s *Server) handleConnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, logger := s.callContext(ctx, ToolConnect)
	args := Normalize(req.Params.Arguments)

	params, err := s.policy.ResolveParameters(args)
	if err != nil {
		return s.toolError(logger, ToolConnect, err), nil
	}

	timeout := params.ConnectTimeout
	if d, ok, err := durationMsArg(args, "connectTimeoutMs"); err != nil {
		return s.toolError(logger, ToolConnect, err), nil
	} else if ok {
		timeout = d
	}

	info, err := s.registry.Connect(ctx, params, timeout)
	if err != nil {
		return s.toolError(logger, ToolConnect, err), nil
	}

	s.activity.Log(fmt.Sprintf("connect %s@%s session=%s", info.Username, params.Addr(), info.ID))
	return jsonResult(info)
}

func (s *Server) handleExec(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, logger := s.callContext(ctx, ToolExec)
	raw := req.Params.Arguments
	args := Normalize(raw)

	command := resolveCommand(args, raw, s.defaultCommand)
	if strings.TrimSpace(command) == "" {
		diag := missingCommand{
			Error:    "no command provided; pass a \"command\" string argument",
			Received: logging.RedactMap(args),
			RawType:  rawType(raw),
		}
		logger.Warn().Str("raw_type", diag.RawType).Msg("exec called without command")
		s.activity.Block("exec: missing command", marshalIndent(diag))
		return jsonResult(diag)
	}

	execReq := ssh.ExecutionRequest{
		Command:   command,
		Cwd:       stringArg(args, "cwd"),
		SessionID: firstString(args, "sessionId", "session_id"),
		Overrides: args,
	}
	if d, ok, err := durationMsArg(args, "timeoutMs"); err != nil {
		return s.toolError(logger, ToolExec, err), nil
	} else if ok {
		execReq.Timeout = d
	}

	start := time.Now()
	result, err := s.executor.Execute(ctx, execReq)
	if err != nil {
		return s.toolError(logger, ToolExec, err), nil
	}

	mode := "one-shot"
	if result.SessionBound {
		mode = "session=" + execReq.SessionID
	}
	logger.Debug().
		Str("mode", mode).
		Dur("duration", time.Since(start)).
		Msg("exec completed")
	s.activity.Block(
		logging.Redact(fmt.Sprintf("exec (%s, %s): %s", mode, describeExit(result), result.CommandSent)),
		logging.Redact(formatOutput(result)),
	)
	return jsonResult(result)
}

func (s *Server) handleDisconnect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, logger := s.callContext(ctx, ToolDisconnect)
	args := Normalize(req.Params.Arguments)

	id := firstString(args, "sessionId", "session_id")
	if id == "" {
		return s.toolError(logger, ToolDisconnect, ErrSessionIDRequired), nil
	}

	ok := s.registry.Disconnect(id)
	s.activity.Log(fmt.Sprintf("disconnect session=%s disconnected=%t", id, ok))
	return jsonResult(disconnectResult{Disconnected: ok})
}

func (s *Server) handleListSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(listSessionsResult{Sessions: s.registry.List()})
}

// callContext scopes the request context's logger to one tool call.
func (s *Server) callContext(ctx context.Context, tool string) (context.Context, zerolog.Logger) {
	logger := logging.FromContext(ctx, s.logger).With().Str("tool", tool).Logger()
	return logging.WithContext(ctx, logger), logger
}

func (s *Server) toolError(logger zerolog.Logger, tool string, err error) *mcp.CallToolResult {
	logger.Warn().Err(err).Msg("tool call failed")
	s.activity.Log(logging.Redact(fmt.Sprintf("%s error: %v", tool, err)))
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func marshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func firstString(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(stringArg(args, key)); v != "" {
			return v
		}
	}
	return ""
}

func describeExit(result *ssh.ExecutionResult) string {
	switch {
	case result.ExitSignal != nil:
		return "signal " + *result.ExitSignal
	case result.ExitCode != nil:
		return fmt.Sprintf("exit %d", *result.ExitCode)
	default:
		return "no exit status"
	}
}

func formatOutput(result *ssh.ExecutionResult) string {
	var b strings.Builder
	if result.Stdout != "" {
		b.WriteString("stdout:\n")
		b.WriteString(strings.TrimRight(result.Stdout, "\n"))
		b.WriteByte('\n')
	}
	if result.Stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(strings.TrimRight(result.Stderr, "\n"))
		b.WriteByte('\n')
	}
	return b.String()
}
