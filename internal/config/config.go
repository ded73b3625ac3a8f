package config

import (
	"sort"
	"strings"
	"sync"
)

// Config is the root configuration for the tinyagi orchestrator.
// It mirrors settings.json under the state home.
type Config struct {
	Harness   HarnessConfig   `json:"harness"`
	Agents    AgentsConfig    `json:"agents"`
	Teams     []TeamSpec      `json:"teams,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	Invoker   InvokerConfig   `json:"invoker"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// HarnessConfig controls the generator→verifier→reviser wrapper and its gates.
type HarnessConfig struct {
	Enabled    bool             `json:"enabled"`
	Autonomy   string           `json:"autonomy"` // "low", "normal", "strict"
	QuietHours QuietHoursConfig `json:"quiet_hours"`
	DigestTime string           `json:"digest_time,omitempty"` // "HH:MM" local
	Browser    BrowserConfig    `json:"browser"`
}

// QuietHoursConfig is a wrap-around local-time window [Start, End).
type QuietHoursConfig struct {
	Start string `json:"start,omitempty"` // "HH:MM"
	End   string `json:"end,omitempty"`   // "HH:MM"
}

// BrowserConfig configures the browser executor.
type BrowserConfig struct {
	Enabled          bool   `json:"enabled"`
	Provider         string `json:"provider,omitempty"` // "auto" (default), "cdp", "broker"
	ProfilePath      string `json:"profile_path,omitempty"`
	ProfileDirectory string `json:"profile_directory,omitempty"` // e.g. "Default"
	DebuggerURL      string `json:"debugger_url,omitempty"`
	DebuggerPorts    []int  `json:"debugger_ports,omitempty"`
	MCPChannel       string `json:"mcp_channel,omitempty"` // broker websocket endpoint
	OpenDomainAccess bool   `json:"open_domain_access,omitempty"`
	HardStopPayments bool   `json:"hard_stop_payments"`
	UseClaudeChrome  bool   `json:"use_claude_chrome,omitempty"`
}

// AgentsConfig contains the default agent plus per-agent overrides.
type AgentsConfig struct {
	Default string               `json:"default,omitempty"` // agentId used when a message carries no @mention
	List    map[string]AgentSpec `json:"list,omitempty"`
}

// AgentSpec describes one model-runner agent.
type AgentSpec struct {
	Name      string `json:"name,omitempty"`
	Binary    string `json:"binary,omitempty"`   // overrides invoker default
	Family    string `json:"family,omitempty"`   // "oneshot" or "framed"
	Model     string `json:"model,omitempty"`    // overrides invoker default
	Workspace string `json:"workspace,omitempty"`
}

// TeamSpec groups agents under a leader for @team routing.
type TeamSpec struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Leader  string   `json:"leader"`
	Members []string `json:"members"`
}

// HasAgent reports whether agentID is the leader or a member of the team.
func (t TeamSpec) HasAgent(agentID string) bool {
	if t.Leader == agentID {
		return true
	}
	for _, m := range t.Members {
		if m == agentID {
			return true
		}
	}
	return false
}

// ChannelsConfig holds per-channel policy knobs read by the adapters.
// Only the queue contract is implemented here; the knobs are persisted so
// adapters and the processor agree on one settings file.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
}

// WhatsAppConfig mirrors the whatsapp adapter policy keys.
type WhatsAppConfig struct {
	SelfCommandOnly   bool   `json:"self_command_only,omitempty"`
	SelfCommandPrefix string `json:"self_command_prefix,omitempty"`
	RequireSelfChat   bool   `json:"require_self_chat,omitempty"`
}

// InvokerConfig configures the model-runner subprocess defaults.
type InvokerConfig struct {
	Binary        string `json:"binary,omitempty"`         // model runner executable
	Family        string `json:"family,omitempty"`         // "oneshot" or "framed"
	Model         string `json:"model,omitempty"`          // primary model
	FallbackModel string `json:"fallback_model,omitempty"` // tried when the primary is unavailable
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	Protocol string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	Endpoint string `json:"endpoint,omitempty"` // host:port
}

// Agent returns the spec for agentID with invoker defaults applied.
func (c *Config) Agent(agentID string) AgentSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	spec := c.Agents.List[agentID]
	if spec.Binary == "" {
		spec.Binary = c.Invoker.Binary
	}
	if spec.Family == "" {
		spec.Family = c.Invoker.Family
	}
	if spec.Model == "" {
		spec.Model = c.Invoker.Model
	}
	return spec
}

// AgentExists reports whether agentID is configured.
func (c *Config) AgentExists(agentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.Agents.List[agentID]
	return ok
}

// AgentIDs returns the configured agent ids in stable (sorted) order.
func (c *Config) AgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.Agents.List))
	for id := range c.Agents.List {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultAgent returns the configured default agent, else the first agent id.
func (c *Config) DefaultAgent() string {
	c.mu.RLock()
	def := c.Agents.Default
	c.mu.RUnlock()
	if def != "" {
		return def
	}
	if ids := c.AgentIDs(); len(ids) > 0 {
		return ids[0]
	}
	return "default"
}

// TeamByID returns the team with the given id.
func (c *Config) TeamByID(id string) (TeamSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.Teams {
		if strings.EqualFold(t.ID, id) {
			return t, true
		}
	}
	return TeamSpec{}, false
}

// TeamForAgent returns the team whose leader is agentID, else the first team
// listing agentID as a member.
func (c *Config) TeamForAgent(agentID string) (TeamSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.Teams {
		if t.Leader == agentID {
			return t, true
		}
	}
	for _, t := range c.Teams {
		if t.HasAgent(agentID) {
			return t, true
		}
	}
	return TeamSpec{}, false
}
