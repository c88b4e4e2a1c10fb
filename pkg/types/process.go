package types

// ProcessConfig is the request body for running a command in a sandbox.
type ProcessConfig struct {
	Command string            `json:"cmd"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"envs,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

// Exec websocket frame types. The client sends one ProcessConfig, then
// receives a sequence of frames: any number of stdout/stderr frames
// followed by exactly one exit or error frame.
const (
	FrameStdout = "stdout"
	FrameStderr = "stderr"
	FrameExit   = "exit"
	FrameError  = "error"
)

// ExecFrame is one message on the exec websocket.
type ExecFrame struct {
	Type     string `json:"type"`
	Data     []byte `json:"data,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ExecResult is the completed command result printed by the CLI.
// Field casing here is the tool's published output contract and matches
// the cache file, not the backend wire protocol.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}
