package config

import (
	"fmt"
	"strings"
	"time"
)

type Transport string

const (
	TransportHTTP      Transport = "http"
	TransportSSE       Transport = "sse"
	TransportWebSocket Transport = "websocket"
	TransportGRPC      Transport = "grpc"
)

// ConcurrencyClass describes how a logical endpoint tolerates parallel load
// and therefore how the partitioner shards work against it.
type ConcurrencyClass string

const (
	// ClassMultiInstance: several redundant deployments behind one logical
	// endpoint, each with its own quota. Sharded by deployment.
	ClassMultiInstance ConcurrencyClass = "multi_instance"
	// ClassSharedCredential: one deployment reached through several
	// credentials that share a low quota. Sharded by credential.
	ClassSharedCredential ConcurrencyClass = "shared_credential"
	// ClassSingleTunable: one deployment, one credential, throughput tuned
	// purely by worker count.
	ClassSingleTunable ConcurrencyClass = "single_tunable"
)

// ConcurrencyMode selects the rate-limiter behavior for a run.
type ConcurrencyMode string

const (
	ModeFixed    ConcurrencyMode = "fixed"
	ModeAdaptive ConcurrencyMode = "adaptive"
)

type Config struct {
	Request     BenchmarkRequest  `mapstructure:"request"`
	Endpoints   []Endpoint        `mapstructure:"endpoints"`
	Credentials []Credential      `mapstructure:"credentials"`
	Limiter     LimiterConfig     `mapstructure:"limiter"`
	Session     SessionConfig     `mapstructure:"session"`
	Collector   CollectorConfig   `mapstructure:"collector"`
	Merger      MergerConfig      `mapstructure:"merger"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	Tasks       TaskLibraryConfig `mapstructure:"tasks"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
	Gates       []string          `mapstructure:"gates"`
	LogLevel    string            `mapstructure:"log_level"`
	JSONOutput  bool              `mapstructure:"json_output"`
	Dashboard   bool              `mapstructure:"dashboard"`
	ConfigFile  string            `mapstructure:"-"`
	ShardFile   string            `mapstructure:"-"`
	MergeOnly   bool              `mapstructure:"-"`
	PrintPlan   bool              `mapstructure:"-"`
}

// BenchmarkRequest is the inbound description of one benchmark run. It is
// immutable once loaded; the partitioner reads it, nothing mutates it.
type BenchmarkRequest struct {
	Model           string          `mapstructure:"model"`
	PromptVariants  []string        `mapstructure:"prompt_variants"`
	TaskTypes       []string        `mapstructure:"task_types"`
	Difficulty      string          `mapstructure:"difficulty"`
	Instances       int             `mapstructure:"instances"`
	ToolReliability float64         `mapstructure:"tool_reliability"`
	Mode            ConcurrencyMode `mapstructure:"mode"`
	WorkerOverride  int             `mapstructure:"worker_override"`
}

// Endpoint is a logical inference destination. Deployments lists the
// physical instances behind it; for shared-credential endpoints there is
// typically a single deployment reached through several credentials.
type Endpoint struct {
	Name        string           `mapstructure:"name"`
	Class       ConcurrencyClass `mapstructure:"class"`
	Provider    string           `mapstructure:"provider"`
	QPS         float64          `mapstructure:"qps"`
	Workers     int              `mapstructure:"workers"`
	APITimeout  time.Duration    `mapstructure:"api_timeout"`
	Credentials []string         `mapstructure:"credentials"`
	Deployments []Deployment     `mapstructure:"deployments"`
}

// Deployment is one physical instance of an endpoint.
type Deployment struct {
	Name       string       `mapstructure:"name"`
	URL        string       `mapstructure:"url"`
	Transport  Transport    `mapstructure:"transport"`
	Credential string       `mapstructure:"credential"`
	GRPC       GRPCSettings `mapstructure:"grpc"`
}

// GRPCSettings configures dynamic invocation for grpc-transport deployments.
type GRPCSettings struct {
	ProtoFile string `mapstructure:"proto_file"`
	Service   string `mapstructure:"service"`
	Method    string `mapstructure:"method"`
	TLS       bool   `mapstructure:"tls"`
	Insecure  bool   `mapstructure:"insecure"`
}

type CredentialType string

const (
	CredentialStatic CredentialType = "static"
	CredentialHeader CredentialType = "header"
	CredentialOAuth2 CredentialType = "oauth2_client_credentials"
)

type Credential struct {
	Name         string         `mapstructure:"name"`
	Type         CredentialType `mapstructure:"type"`
	Token        string         `mapstructure:"token"`
	Header       string         `mapstructure:"header"`
	TokenURL     string         `mapstructure:"token_url"`
	ClientID     string         `mapstructure:"client_id"`
	ClientSecret string         `mapstructure:"client_secret"`
	Scopes       []string       `mapstructure:"scopes"`
}

type LimiterConfig struct {
	StateDir        string        `mapstructure:"state_dir"`
	ConservativeQPS float64       `mapstructure:"conservative_qps"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type SessionConfig struct {
	MaxTurns         int           `mapstructure:"max_turns"`
	APITimeout       time.Duration `mapstructure:"api_timeout"`
	WallClock        time.Duration `mapstructure:"wall_clock"`
	TransportRetries int           `mapstructure:"transport_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	FormatErrorLimit int           `mapstructure:"format_error_limit"`
	SearchLimit      int           `mapstructure:"search_limit"`
}

type CollectorConfig struct {
	Dir           string        `mapstructure:"dir"`
	FlushSize     int           `mapstructure:"flush_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type MergerConfig struct {
	StorePath    string        `mapstructure:"store_path"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	SQLitePath   string        `mapstructure:"sqlite_path"`
	DeleteMerged bool          `mapstructure:"delete_merged"`
}

type RunnerConfig struct {
	Stagger       time.Duration `mapstructure:"stagger"`
	LaunchRate    float64       `mapstructure:"launch_rate"`
	ShardDeadline time.Duration `mapstructure:"shard_deadline"`
}

type TaskLibraryConfig struct {
	Dir        string `mapstructure:"dir"`
	ParamsFile string `mapstructure:"params_file"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateRequest(c.Request)...)
	issues = append(issues, validateEndpoints(c.Endpoints, c.Credentials)...)
	issues = append(issues, validateCredentials(c.Credentials)...)
	issues = append(issues, validateLimiter(c.Limiter)...)
	issues = append(issues, validateSession(c.Session)...)
	issues = append(issues, validateCollector(c.Collector)...)
	issues = append(issues, validateMerger(c.Merger)...)
	issues = append(issues, validateRunner(c.Runner)...)
	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateRequest(req BenchmarkRequest) []string {
	var issues []string
	if strings.TrimSpace(req.Model) == "" {
		issues = append(issues, "request: model is required")
	}
	if req.Instances < 1 {
		issues = append(issues, "request: instances must be >= 1")
	}
	if req.ToolReliability < 0 || req.ToolReliability > 1 {
		issues = append(issues, "request: tool_reliability must be within [0, 1]")
	}
	switch req.Mode {
	case "", ModeFixed, ModeAdaptive:
	default:
		issues = append(issues, fmt.Sprintf("request: mode must be 'fixed' or 'adaptive', got %q", req.Mode))
	}
	if req.WorkerOverride < 0 {
		issues = append(issues, "request: worker_override must be >= 0")
	}
	if len(req.PromptVariants) == 0 {
		issues = append(issues, "request: at least one prompt variant is required")
	}
	if len(req.TaskTypes) == 0 {
		issues = append(issues, "request: at least one task type is required")
	}
	return issues
}

func validateEndpoints(endpoints []Endpoint, creds []Credential) []string {
	var issues []string
	if len(endpoints) == 0 {
		issues = append(issues, "endpoints: at least one endpoint is required")
	}
	credNames := map[string]bool{}
	for _, cred := range creds {
		credNames[strings.ToLower(strings.TrimSpace(cred.Name))] = true
	}
	seenNames := map[string]int{}
	for idx, ep := range endpoints {
		name := strings.TrimSpace(ep.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: name is required", idx))
		} else {
			key := strings.ToLower(name)
			if prev, ok := seenNames[key]; ok {
				issues = append(issues, fmt.Sprintf("endpoints[%d]: duplicate name also defined at index %d", idx, prev))
			} else {
				seenNames[key] = idx
			}
		}
		switch ep.Class {
		case ClassMultiInstance, ClassSharedCredential, ClassSingleTunable:
		case "":
			issues = append(issues, fmt.Sprintf("endpoints[%d]: class is required", idx))
		default:
			issues = append(issues, fmt.Sprintf("endpoints[%d]: unsupported class %q", idx, ep.Class))
		}
		if ep.QPS < 0 {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: qps must be >= 0", idx))
		}
		if ep.Workers < 0 {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: workers must be >= 0", idx))
		}
		if ep.APITimeout < 0 {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: api_timeout must be >= 0", idx))
		}
		if len(ep.Deployments) == 0 {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: at least one deployment is required", idx))
		}
		if ep.Class == ClassSharedCredential && len(ep.Credentials) == 0 {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: shared_credential endpoints need a credentials list", idx))
		}
		for _, credName := range ep.Credentials {
			if !credNames[strings.ToLower(strings.TrimSpace(credName))] {
				issues = append(issues, fmt.Sprintf("endpoints[%d]: credential %q is not defined", idx, credName))
			}
		}
		issues = append(issues, validateDeployments(idx, ep.Deployments, credNames)...)
	}
	return issues
}

func validateDeployments(epIdx int, deployments []Deployment, credNames map[string]bool) []string {
	var issues []string
	for idx, dep := range deployments {
		if strings.TrimSpace(dep.URL) == "" {
			issues = append(issues, fmt.Sprintf("endpoints[%d].deployments[%d]: url is required", epIdx, idx))
		}
		switch dep.Transport {
		case "", TransportHTTP, TransportSSE, TransportWebSocket, TransportGRPC:
		default:
			issues = append(issues, fmt.Sprintf("endpoints[%d].deployments[%d]: transport must be 'http', 'sse', 'websocket', or 'grpc', got %q", epIdx, idx, dep.Transport))
		}
		if dep.Transport == TransportGRPC {
			if dep.GRPC.ProtoFile == "" {
				issues = append(issues, fmt.Sprintf("endpoints[%d].deployments[%d]: grpc.proto_file is required", epIdx, idx))
			}
			if dep.GRPC.Service == "" {
				issues = append(issues, fmt.Sprintf("endpoints[%d].deployments[%d]: grpc.service is required", epIdx, idx))
			}
			if dep.GRPC.Method == "" {
				issues = append(issues, fmt.Sprintf("endpoints[%d].deployments[%d]: grpc.method is required", epIdx, idx))
			}
		}
		if cred := strings.TrimSpace(dep.Credential); cred != "" && !credNames[strings.ToLower(cred)] {
			issues = append(issues, fmt.Sprintf("endpoints[%d].deployments[%d]: credential %q is not defined", epIdx, idx, dep.Credential))
		}
	}
	return issues
}

func validateCredentials(creds []Credential) []string {
	var issues []string
	seen := map[string]int{}
	for idx, cred := range creds {
		name := strings.TrimSpace(cred.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("credentials[%d]: name is required", idx))
			continue
		}
		key := strings.ToLower(name)
		if prev, ok := seen[key]; ok {
			issues = append(issues, fmt.Sprintf("credentials[%d]: duplicate name also defined at index %d", idx, prev))
		} else {
			seen[key] = idx
		}
		switch cred.Type {
		case "", CredentialStatic:
			if strings.TrimSpace(cred.Token) == "" {
				issues = append(issues, fmt.Sprintf("credentials[%d]: token is required for static credentials", idx))
			}
		case CredentialHeader:
			if strings.TrimSpace(cred.Header) == "" {
				issues = append(issues, fmt.Sprintf("credentials[%d]: header is required for header credentials", idx))
			}
			if strings.TrimSpace(cred.Token) == "" {
				issues = append(issues, fmt.Sprintf("credentials[%d]: token is required for header credentials", idx))
			}
		case CredentialOAuth2:
			if strings.TrimSpace(cred.TokenURL) == "" {
				issues = append(issues, fmt.Sprintf("credentials[%d]: token_url is required for oauth2_client_credentials", idx))
			}
			if strings.TrimSpace(cred.ClientID) == "" {
				issues = append(issues, fmt.Sprintf("credentials[%d]: client_id is required for oauth2_client_credentials", idx))
			}
			if strings.TrimSpace(cred.ClientSecret) == "" {
				issues = append(issues, fmt.Sprintf("credentials[%d]: client_secret is required for oauth2_client_credentials", idx))
			}
		default:
			issues = append(issues, fmt.Sprintf("credentials[%d]: unsupported type %q", idx, cred.Type))
		}
	}
	return issues
}

func validateLimiter(lim LimiterConfig) []string {
	var issues []string
	if lim.ConservativeQPS < 0 {
		issues = append(issues, "limiter: conservative_qps must be >= 0")
	}
	if lim.MinInterval < 0 {
		issues = append(issues, "limiter: min_interval must be >= 0")
	}
	if lim.MaxInterval < 0 {
		issues = append(issues, "limiter: max_interval must be >= 0")
	}
	if lim.MinInterval > 0 && lim.MaxInterval > 0 && lim.MaxInterval < lim.MinInterval {
		issues = append(issues, "limiter: max_interval must be >= min_interval")
	}
	return issues
}

func validateSession(s SessionConfig) []string {
	var issues []string
	if s.MaxTurns < 0 {
		issues = append(issues, "session: max_turns must be >= 0")
	}
	if s.APITimeout < 0 {
		issues = append(issues, "session: api_timeout must be >= 0")
	}
	if s.WallClock < 0 {
		issues = append(issues, "session: wall_clock must be >= 0")
	}
	if s.TransportRetries < 0 {
		issues = append(issues, "session: transport_retries must be >= 0")
	}
	if s.RetryBaseDelay < 0 {
		issues = append(issues, "session: retry_base_delay must be >= 0")
	}
	if s.RetryMaxDelay < 0 {
		issues = append(issues, "session: retry_max_delay must be >= 0")
	}
	if s.FormatErrorLimit < 1 {
		issues = append(issues, "session: format_error_limit must be >= 1")
	}
	if s.SearchLimit < 1 {
		issues = append(issues, "session: search_limit must be >= 1")
	}
	return issues
}

func validateCollector(c CollectorConfig) []string {
	var issues []string
	if c.FlushSize < 0 {
		issues = append(issues, "collector: flush_size must be >= 0")
	}
	if c.FlushInterval < 0 {
		issues = append(issues, "collector: flush_interval must be >= 0")
	}
	return issues
}

func validateMerger(m MergerConfig) []string {
	var issues []string
	if m.ScanInterval < 0 {
		issues = append(issues, "merger: scan_interval must be >= 0")
	}
	return issues
}

func validateRunner(r RunnerConfig) []string {
	var issues []string
	if r.Stagger < 0 {
		issues = append(issues, "runner: stagger must be >= 0")
	}
	if r.LaunchRate < 0 {
		issues = append(issues, "runner: launch_rate must be >= 0")
	}
	if r.ShardDeadline < 0 {
		issues = append(issues, "runner: shard_deadline must be >= 0")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	if !t.Enabled {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		issues = append(issues, "tracing: sample_ratio must be within [0, 1]")
	}
	return issues
}

// EndpointByName returns the endpoint with the given name, matched
// case-insensitively.
func (c Config) EndpointByName(name string) (Endpoint, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, ep := range c.Endpoints {
		if strings.ToLower(ep.Name) == key {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// CredentialByName returns the credential with the given name, matched
// case-insensitively.
func (c Config) CredentialByName(name string) (Credential, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, cred := range c.Credentials {
		if strings.ToLower(cred.Name) == key {
			return cred, true
		}
	}
	return Credential{}, false
}
