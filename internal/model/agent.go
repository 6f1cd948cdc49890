package model

// AgentConfig identifies one upstream agent. It is fixed once the hub is built.
type AgentConfig struct {
	ID    string `json:"id" yaml:"id" mapstructure:"id"`
	Label string `json:"label" yaml:"label" mapstructure:"label"`
	URL   string `json:"url" yaml:"url" mapstructure:"url"`
}

// ConnectionStatus is the externally visible state of one agent connection.
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusConnected  ConnectionStatus = "connected"
	StatusError      ConnectionStatus = "error"
	StatusClosed     ConnectionStatus = "closed"
)

// AgentState pairs a configured agent with its current connection status.
type AgentState struct {
	AgentConfig `yaml:",inline"`
	Status      ConnectionStatus `json:"status" yaml:"status"`
}
