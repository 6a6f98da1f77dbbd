// Package server exposes the SSH executor as MCP tools over stdio.
package server

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/tOgg1/sshmcp/internal/activity"
	"github.com/tOgg1/sshmcp/internal/logging"
	"github.com/tOgg1/sshmcp/internal/ssh"
)

// Name is the server name reported during MCP initialization.
const Name = "sshmcp"

// Options wires the server to its collaborators.
type Options struct {
	Policy   *ssh.Policy
	Registry *ssh.Registry
	Executor *ssh.Executor

	// Activity receives one record per tool call. Nil disables it.
	Activity *activity.Logger

	// DefaultCommand runs when an exec call carries no command text.
	DefaultCommand string

	Version string
}

// Server is the MCP tool server.
type Server struct {
	mcp            *mcpserver.MCPServer
	policy         *ssh.Policy
	registry       *ssh.Registry
	executor       *ssh.Executor
	activity       *activity.Logger
	defaultCommand string
	logger         zerolog.Logger
}

// New creates a Server with every tool registered.
func New(opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		policy:         opts.Policy,
		registry:       opts.Registry,
		executor:       opts.Executor,
		activity:       opts.Activity,
		defaultCommand: opts.DefaultCommand,
		logger:         logging.Component("mcp"),
	}
	s.mcp = mcpserver.NewMCPServer(Name, version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(connectTool(), s.handleConnect)
	s.mcp.AddTool(execTool(), s.handleExec)
	s.mcp.AddTool(disconnectTool(), s.handleDisconnect)
	s.mcp.AddTool(listSessionsTool(), s.handleListSessions)
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// Run serves MCP over in and out until ctx is done or in reaches EOF.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger, "", 0))

	s.logger.Info().Msg("serving MCP on stdio")
	s.activity.Log("server started")

	start := time.Now()
	err := stdio.Listen(logging.WithContext(ctx, s.logger), in, out)

	s.logger.Info().Dur("uptime", time.Since(start)).Msg("MCP server stopped")
	s.activity.Log("server stopped")

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
