package server

import "github.com/mark3labs/mcp-go/mcp"

// Tool names.
const (
	ToolConnect      = "connect"
	ToolExec         = "exec"
	ToolDisconnect   = "disconnect"
	ToolListSessions = "listSessions"
)

func connectTool() mcp.Tool {
	return mcp.NewTool(ToolConnect,
		mcp.WithDescription("Open a persistent SSH session to the configured host. Host, port and credentials come from server configuration only."),
		mcp.WithNumber("connectTimeoutMs",
			mcp.Description("Handshake timeout in milliseconds (default: SSH_CONNECT_TIMEOUT_MS)"),
		),
	)
}

func execTool() mcp.Tool {
	return mcp.NewTool(ToolExec,
		mcp.WithDescription("Run a command on an open session, or on a one-shot connection to the configured host when no ready session is given"),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The shell command to run"),
		),
		mcp.WithString("sessionId",
			mcp.Description("Session returned by connect. Unknown or closed sessions fall back to a one-shot connection"),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory to cd into before running the command"),
		),
		mcp.WithNumber("timeoutMs",
			mcp.Description("Command timeout in milliseconds (default: SSH_EXEC_TIMEOUT_MS)"),
		),
	)
}

func disconnectTool() mcp.Tool {
	return mcp.NewTool(ToolDisconnect,
		mcp.WithDescription("Close a session opened by connect"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session to close"),
		),
	)
}

func listSessionsTool() mcp.Tool {
	return mcp.NewTool(ToolListSessions,
		mcp.WithDescription("List the ids of ready sessions"),
	)
}
