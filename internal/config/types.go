package config

import "time"

// Floor represents the complete OfficeFloor configuration.
type Floor struct {
	Include []string       `yaml:"include,omitempty"`
	Service ServiceConfig  `yaml:"service"`
	Journal JournalConfig  `yaml:"journal,omitempty"`
	API     APIConfig      `yaml:"api,omitempty"`
	Metrics MetricsConfig  `yaml:"metrics,omitempty"`
	// Webhooks exposes signed HTTP endpoints that invoke office functions.
	Webhooks *WebhooksConfig `yaml:"webhooks,omitempty"`
	Teams   []TeamConfig   `yaml:"teams"`
	Offices []OfficeConfig `yaml:"offices"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// DrainTimeout bounds how long teams may finish in-flight jobs on close.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	// LockPath is the pid lock taken by `officefloor start`.
	LockPath string `yaml:"lock_path,omitempty"`
}

// JournalConfig defines the sqlite process journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig defines HTTP trigger server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
	// MaxInvokeTimeout caps how long a synchronous invocation may wait.
	MaxInvokeTimeout time.Duration `yaml:"max_invoke_timeout,omitempty"`
	// MaxConcurrentSync bounds the synchronous invocations waiting at once.
	MaxConcurrentSync int             `yaml:"max_concurrent_sync,omitempty"`
	RateLimit         RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig limits requests per authenticated token. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// MetricsConfig defines the Prometheus collector settings.
type MetricsConfig struct {
	Namespace string `yaml:"namespace,omitempty"`
}

// WebhooksConfig defines the webhook listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint binds an HMAC verified path to an office function. The
// request body is the process parameter.
type WebhookEndpoint struct {
	Path     string `yaml:"path"`
	Office   string `yaml:"office"`
	Function string `yaml:"function"`
	Secret   string `yaml:"secret"`
	// SignatureHeader carries the signature, X-Hub-Signature-256 by default.
	SignatureHeader string `yaml:"signature_header,omitempty"`
	// MaxBodySize accepts bytes or KB/MB/GB suffixes, 1MB by default.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

// DefaultSignatureHeader is the webhook signature header when none is set.
const DefaultSignatureHeader = "X-Hub-Signature-256"

// TeamConfig defines one floor-wide team.
type TeamConfig struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// OfficeConfig defines one office.
type OfficeConfig struct {
	Name string `yaml:"name"`
	// Teams maps office team names onto floor team names. Functions may also
	// name a floor team directly.
	Teams          map[string]string     `yaml:"teams,omitempty"`
	ManagedObjects []ManagedObjectConfig `yaml:"managed_objects,omitempty"`
	Governances    []GovernanceConfig    `yaml:"governances,omitempty"`
	Functions      []FunctionConfig      `yaml:"functions"`
	Escalations    []EscalationConfig    `yaml:"escalations,omitempty"`
}

// ManagedObjectConfig defines one managed object source of an office.
type ManagedObjectConfig struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Properties map[string]string `yaml:"properties,omitempty"`
	// Dependencies maps a dependency key declared by the source to another
	// managed object of the same office.
	Dependencies map[string]string `yaml:"dependencies,omitempty"`
	// Flows maps a flow key declared by the source to a function of the office.
	Flows map[string]string `yaml:"flows,omitempty"`
	Pool  *PoolConfig       `yaml:"pool,omitempty"`
	// Team runs the flows the source instigates. Defaults to the target function's team.
	Team string `yaml:"team,omitempty"`
}

// PoolConfig enables pooling of managed objects.
type PoolConfig struct {
	Capacity int `yaml:"capacity"`
}

// GovernanceConfig defines one governance of an office.
type GovernanceConfig struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// FunctionConfig defines one function of an office.
type FunctionConfig struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Team       string            `yaml:"team"`
	Properties map[string]string `yaml:"properties,omitempty"`
	// Objects lists managed object names; position i is registry index i.
	Objects     []string           `yaml:"objects,omitempty"`
	Next        string             `yaml:"next,omitempty"`
	Flows       []FlowConfig       `yaml:"flows,omitempty"`
	Escalations []EscalationConfig `yaml:"escalations,omitempty"`
	Governances []string           `yaml:"governances,omitempty"`
}

// Flow strategies.
const (
	StrategySequential   = "sequential"
	StrategyParallel     = "parallel"
	StrategyAsynchronous = "asynchronous"
)

// FlowConfig binds a flow key of a function to the function instigated.
type FlowConfig struct {
	Key      string `yaml:"key"`
	Function string `yaml:"function"`
	Strategy string `yaml:"strategy"`
}

// EscalationConfig binds an escalation kind to a handling function.
type EscalationConfig struct {
	Kind     string `yaml:"kind"`
	Function string `yaml:"function"`
}

// Defaults returns a Floor with sensible defaults.
func Defaults() *Floor {
	return &Floor{
		Service: ServiceConfig{
			Name:         "officefloor",
			LogLevel:     "info",
			LogFormat:    "json",
			DrainTimeout: 10 * time.Second,
			LockPath:     "./data/officefloor.lock",
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "./data/journal.db",
		},
		API: APIConfig{
			Enabled:           false,
			Listen:            "127.0.0.1:8080",
			MaxInvokeTimeout:  60 * time.Second,
			MaxConcurrentSync: 10,
		},
		Metrics: MetricsConfig{
			Namespace: "officefloor",
		},
	}
}

// Office returns the office with the given name.
func (f *Floor) Office(name string) (*OfficeConfig, bool) {
	for i := range f.Offices {
		if f.Offices[i].Name == name {
			return &f.Offices[i], true
		}
	}
	return nil, false
}
