package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and the optional configuration file to
// produce a Config. Flags override file settings.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := defaultConfig()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	normalizeConfig(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with every tunable at its default.
func defaultConfig() *Config {
	return &Config{
		Request: BenchmarkRequest{
			PromptVariants:  []string{"default"},
			TaskTypes:       []string{"default"},
			Instances:       1,
			ToolReliability: 1,
			Mode:            ModeFixed,
		},
		Limiter: LimiterConfig{
			StateDir:        ".gauntlet/limiter",
			ConservativeQPS: 0.5,
			MinInterval:     2 * time.Second,
			MaxInterval:     60 * time.Second,
		},
		Session: SessionConfig{
			MaxTurns:         20,
			APITimeout:       150 * time.Second,
			WallClock:        15 * time.Minute,
			TransportRetries: 5,
			RetryBaseDelay:   500 * time.Millisecond,
			RetryMaxDelay:    10 * time.Second,
			FormatErrorLimit: 3,
			SearchLimit:      3,
		},
		Collector: CollectorConfig{
			Dir:           ".gauntlet/results",
			FlushSize:     20,
			FlushInterval: 30 * time.Second,
		},
		Merger: MergerConfig{
			StorePath:    ".gauntlet/stats.json",
			ScanInterval: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Protocol:    "grpc",
			SampleRatio: 1,
			ServiceName: "gauntlet",
		},
		LogLevel: "info",
	}
}

// normalizeConfig trims and lowercases fields whose comparisons are
// case-insensitive elsewhere.
func normalizeConfig(cfg *Config) {
	cfg.Request.Model = strings.TrimSpace(cfg.Request.Model)
	cfg.Request.Mode = ConcurrencyMode(strings.ToLower(strings.TrimSpace(string(cfg.Request.Mode))))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		ep.Name = strings.TrimSpace(ep.Name)
		ep.Class = ConcurrencyClass(strings.ToLower(strings.TrimSpace(string(ep.Class))))
		if ep.Workers == 0 {
			ep.Workers = 2
		}
		for j := range ep.Deployments {
			dep := &ep.Deployments[j]
			dep.URL = strings.TrimSpace(dep.URL)
			dep.Transport = Transport(strings.ToLower(strings.TrimSpace(string(dep.Transport))))
			if dep.Transport == "" {
				dep.Transport = TransportHTTP
			}
			if dep.Name == "" {
				dep.Name = fmt.Sprintf("%s-%d", ep.Name, j)
			}
		}
	}
}

// applyConfigSettings applies settings from a config file to the Config.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupKey(settings, "request"); ok {
		if err := applyRequestSettings(&cfg.Request, raw); err != nil {
			return fmt.Errorf("request: %w", err)
		}
	}

	if raw, ok := lookupKey(settings, "endpoints"); ok {
		endpoints, err := parseEndpointList(raw)
		if err != nil {
			return fmt.Errorf("endpoints: %w", err)
		}
		cfg.Endpoints = endpoints
	}

	if raw, ok := lookupKey(settings, "credentials"); ok {
		creds, err := parseCredentialList(raw)
		if err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
		cfg.Credentials = creds
	}

	if raw, ok := lookupKey(settings, "limiter"); ok {
		if err := applyLimiterSettings(&cfg.Limiter, raw); err != nil {
			return fmt.Errorf("limiter: %w", err)
		}
	}

	if raw, ok := lookupKey(settings, "session"); ok {
		if err := applySessionSettings(&cfg.Session, raw); err != nil {
			return fmt.Errorf("session: %w", err)
		}
	}

	if raw, ok := lookupKey(settings, "collector"); ok {
		if err := applyCollectorSettings(&cfg.Collector, raw); err != nil {
			return fmt.Errorf("collector: %w", err)
		}
	}

	if raw, ok := lookupKey(settings, "merger"); ok {
		if err := applyMergerSettings(&cfg.Merger, raw); err != nil {
			return fmt.Errorf("merger: %w", err)
		}
	}

	if raw, ok := lookupKey(settings, "runner"); ok {
		if err := applyRunnerSettings(&cfg.Runner, raw); err != nil {
			return fmt.Errorf("runner: %w", err)
		}
	}

	if raw, ok := lookupKey(settings, "tasks"); ok {
		if err := applyTaskSettings(&cfg.Tasks, raw); err != nil {
			return fmt.Errorf("tasks: %w", err)
		}
	}

	if raw, ok := lookupKey(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	if raw, ok := lookupKey(settings, "gates"); ok {
		gates, err := toStringList(raw)
		if err != nil {
			return fmt.Errorf("gates: %w", err)
		}
		cfg.Gates = gates
	}

	if raw, ok := lookupKey(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		cfg.LogLevel = val
	}

	if raw, ok := lookupKey(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := toBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupKey(settings, "dashboard"); ok {
		val, err := toBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	return nil
}

func applyRequestSettings(req *BenchmarkRequest, value interface{}) error {
	entry, err := toKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupKey(entry, "model"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}
		req.Model = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "promptvariants", "prompt_variants", "prompt-variants", "variants"); ok {
		vals, err := toStringList(raw)
		if err != nil {
			return fmt.Errorf("prompt_variants: %w", err)
		}
		if len(vals) > 0 {
			req.PromptVariants = vals
		}
	}
	if raw, ok := lookupKey(entry, "tasktypes", "task_types", "task-types"); ok {
		vals, err := toStringList(raw)
		if err != nil {
			return fmt.Errorf("task_types: %w", err)
		}
		if len(vals) > 0 {
			req.TaskTypes = vals
		}
	}
	if raw, ok := lookupKey(entry, "difficulty"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("difficulty: %w", err)
		}
		req.Difficulty = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "instances"); ok {
		val, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("instances: %w", err)
		}
		req.Instances = val
	}
	if raw, ok := lookupKey(entry, "toolreliability", "tool_reliability", "tool-reliability", "reliability"); ok {
		val, err := toFloat(raw)
		if err != nil {
			return fmt.Errorf("tool_reliability: %w", err)
		}
		req.ToolReliability = val
	}
	if raw, ok := lookupKey(entry, "mode"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("mode: %w", err)
		}
		req.Mode = ConcurrencyMode(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupKey(entry, "workeroverride", "worker_override", "worker-override"); ok {
		val, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("worker_override: %w", err)
		}
		req.WorkerOverride = val
	}
	return nil
}

func parseEndpointList(value interface{}) ([]Endpoint, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toList(value)
	if err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, 0, len(items))
	for idx, item := range items {
		entry, err := toKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		endpoint, err := buildEndpoint(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

func buildEndpoint(settings map[string]interface{}) (Endpoint, error) {
	var endpoint Endpoint
	if raw, ok := lookupKey(settings, "name"); ok {
		val, err := toString(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("name: %w", err)
		}
		endpoint.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "class"); ok {
		val, err := toString(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("class: %w", err)
		}
		endpoint.Class = ConcurrencyClass(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupKey(settings, "provider"); ok {
		val, err := toString(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("provider: %w", err)
		}
		endpoint.Provider = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupKey(settings, "qps"); ok {
		val, err := toFloat(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("qps: %w", err)
		}
		endpoint.QPS = val
	}
	if raw, ok := lookupKey(settings, "workers"); ok {
		val, err := toInt(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("workers: %w", err)
		}
		endpoint.Workers = val
	}
	if raw, ok := lookupKey(settings, "apitimeout", "api_timeout", "api-timeout"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("api_timeout: %w", err)
		}
		endpoint.APITimeout = dur
	}
	if raw, ok := lookupKey(settings, "credentials"); ok {
		vals, err := toStringList(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("credentials: %w", err)
		}
		endpoint.Credentials = vals
	}
	if raw, ok := lookupKey(settings, "deployments"); ok {
		deployments, err := parseDeploymentList(raw)
		if err != nil {
			return Endpoint{}, fmt.Errorf("deployments: %w", err)
		}
		endpoint.Deployments = deployments
	}
	return endpoint, nil
}

func parseDeploymentList(value interface{}) ([]Deployment, error) {
	items, err := toList(value)
	if err != nil {
		return nil, err
	}
	deployments := make([]Deployment, 0, len(items))
	for idx, item := range items {
		entry, err := toKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		deployment, err := buildDeployment(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		deployments = append(deployments, deployment)
	}
	return deployments, nil
}

func buildDeployment(settings map[string]interface{}) (Deployment, error) {
	var dep Deployment
	if raw, ok := lookupKey(settings, "name"); ok {
		val, err := toString(raw)
		if err != nil {
			return Deployment{}, fmt.Errorf("name: %w", err)
		}
		dep.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "url", "target"); ok {
		val, err := toString(raw)
		if err != nil {
			return Deployment{}, fmt.Errorf("url: %w", err)
		}
		dep.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "transport", "protocol"); ok {
		val, err := toString(raw)
		if err != nil {
			return Deployment{}, fmt.Errorf("transport: %w", err)
		}
		dep.Transport = Transport(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupKey(settings, "credential"); ok {
		val, err := toString(raw)
		if err != nil {
			return Deployment{}, fmt.Errorf("credential: %w", err)
		}
		dep.Credential = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "grpc"); ok {
		grpcSettings, err := buildGRPCSettings(raw)
		if err != nil {
			return Deployment{}, fmt.Errorf("grpc: %w", err)
		}
		dep.GRPC = grpcSettings
	}
	return dep, nil
}

func buildGRPCSettings(value interface{}) (GRPCSettings, error) {
	entry, err := toKeyMap(value)
	if err != nil {
		return GRPCSettings{}, err
	}
	var gs GRPCSettings
	if raw, ok := lookupKey(entry, "proto_file", "protofile", "proto"); ok {
		val, err := toString(raw)
		if err != nil {
			return GRPCSettings{}, fmt.Errorf("proto_file: %w", err)
		}
		gs.ProtoFile = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "service"); ok {
		val, err := toString(raw)
		if err != nil {
			return GRPCSettings{}, fmt.Errorf("service: %w", err)
		}
		gs.Service = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "method"); ok {
		val, err := toString(raw)
		if err != nil {
			return GRPCSettings{}, fmt.Errorf("method: %w", err)
		}
		gs.Method = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "tls"); ok {
		val, err := toBool(raw)
		if err != nil {
			return GRPCSettings{}, fmt.Errorf("tls: %w", err)
		}
		gs.TLS = val
	}
	if raw, ok := lookupKey(entry, "insecure"); ok {
		val, err := toBool(raw)
		if err != nil {
			return GRPCSettings{}, fmt.Errorf("insecure: %w", err)
		}
		gs.Insecure = val
	}
	return gs, nil
}

func parseCredentialList(value interface{}) ([]Credential, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toList(value)
	if err != nil {
		return nil, err
	}
	creds := make([]Credential, 0, len(items))
	for idx, item := range items {
		entry, err := toKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		cred, err := buildCredential(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func buildCredential(settings map[string]interface{}) (Credential, error) {
	var cred Credential
	if raw, ok := lookupKey(settings, "name"); ok {
		val, err := toString(raw)
		if err != nil {
			return Credential{}, fmt.Errorf("name: %w", err)
		}
		cred.Name = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "type"); ok {
		val, err := toString(raw)
		if err != nil {
			return Credential{}, fmt.Errorf("type: %w", err)
		}
		cred.Type = CredentialType(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupKey(settings, "token"); ok {
		val, err := toString(raw)
		if err != nil {
			return Credential{}, fmt.Errorf("token: %w", err)
		}
		cred.Token = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "header"); ok {
		val, err := toString(raw)
		if err != nil {
			return Credential{}, fmt.Errorf("header: %w", err)
		}
		cred.Header = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "tokenurl", "token_url", "token-url"); ok {
		val, err := toString(raw)
		if err != nil {
			return Credential{}, fmt.Errorf("token_url: %w", err)
		}
		cred.TokenURL = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "clientid", "client_id", "client-id"); ok {
		val, err := toString(raw)
		if err != nil {
			return Credential{}, fmt.Errorf("client_id: %w", err)
		}
		cred.ClientID = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "clientsecret", "client_secret", "client-secret"); ok {
		val, err := toString(raw)
		if err != nil {
			return Credential{}, fmt.Errorf("client_secret: %w", err)
		}
		cred.ClientSecret = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(settings, "scopes"); ok {
		vals, err := toStringList(raw)
		if err != nil {
			return Credential{}, fmt.Errorf("scopes: %w", err)
		}
		cred.Scopes = vals
	}
	applyCredentialEnv(&cred)
	return cred, nil
}

// applyCredentialEnv fills empty secret fields from environment variables so
// secrets can stay out of config files. The variable names are derived from
// the credential name: GAUNTLET_CRED_<NAME>_TOKEN and
// GAUNTLET_CRED_<NAME>_SECRET.
func applyCredentialEnv(cred *Credential) {
	if cred.Name == "" {
		return
	}
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(cred.Name))
	if cred.Token == "" {
		if env := os.Getenv("GAUNTLET_CRED_" + key + "_TOKEN"); env != "" {
			cred.Token = env
		}
	}
	if cred.ClientSecret == "" {
		if env := os.Getenv("GAUNTLET_CRED_" + key + "_SECRET"); env != "" {
			cred.ClientSecret = env
		}
	}
}

func applyLimiterSettings(lim *LimiterConfig, value interface{}) error {
	entry, err := toKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupKey(entry, "statedir", "state_dir", "state-dir"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("state_dir: %w", err)
		}
		lim.StateDir = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "conservativeqps", "conservative_qps", "conservative-qps"); ok {
		val, err := toFloat(raw)
		if err != nil {
			return fmt.Errorf("conservative_qps: %w", err)
		}
		lim.ConservativeQPS = val
	}
	if raw, ok := lookupKey(entry, "mininterval", "min_interval", "min-interval"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("min_interval: %w", err)
		}
		lim.MinInterval = dur
	}
	if raw, ok := lookupKey(entry, "maxinterval", "max_interval", "max-interval"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("max_interval: %w", err)
		}
		lim.MaxInterval = dur
	}
	return nil
}

func applySessionSettings(s *SessionConfig, value interface{}) error {
	entry, err := toKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupKey(entry, "maxturns", "max_turns", "max-turns"); ok {
		val, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("max_turns: %w", err)
		}
		s.MaxTurns = val
	}
	if raw, ok := lookupKey(entry, "apitimeout", "api_timeout", "api-timeout"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("api_timeout: %w", err)
		}
		s.APITimeout = dur
	}
	if raw, ok := lookupKey(entry, "wallclock", "wall_clock", "wall-clock"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("wall_clock: %w", err)
		}
		s.WallClock = dur
	}
	if raw, ok := lookupKey(entry, "transportretries", "transport_retries", "transport-retries"); ok {
		val, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("transport_retries: %w", err)
		}
		s.TransportRetries = val
	}
	if raw, ok := lookupKey(entry, "retrybasedelay", "retry_base_delay", "retry-base-delay"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("retry_base_delay: %w", err)
		}
		s.RetryBaseDelay = dur
	}
	if raw, ok := lookupKey(entry, "retrymaxdelay", "retry_max_delay", "retry-max-delay"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("retry_max_delay: %w", err)
		}
		s.RetryMaxDelay = dur
	}
	if raw, ok := lookupKey(entry, "formaterrorlimit", "format_error_limit", "format-error-limit"); ok {
		val, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("format_error_limit: %w", err)
		}
		s.FormatErrorLimit = val
	}
	if raw, ok := lookupKey(entry, "searchlimit", "search_limit", "search-limit"); ok {
		val, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("search_limit: %w", err)
		}
		s.SearchLimit = val
	}
	return nil
}

func applyCollectorSettings(c *CollectorConfig, value interface{}) error {
	entry, err := toKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupKey(entry, "dir"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("dir: %w", err)
		}
		c.Dir = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "flushsize", "flush_size", "flush-size"); ok {
		val, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("flush_size: %w", err)
		}
		c.FlushSize = val
	}
	if raw, ok := lookupKey(entry, "flushinterval", "flush_interval", "flush-interval"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("flush_interval: %w", err)
		}
		c.FlushInterval = dur
	}
	return nil
}

func applyMergerSettings(m *MergerConfig, value interface{}) error {
	entry, err := toKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupKey(entry, "storepath", "store_path", "store-path"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("store_path: %w", err)
		}
		m.StorePath = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "scaninterval", "scan_interval", "scan-interval"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("scan_interval: %w", err)
		}
		m.ScanInterval = dur
	}
	if raw, ok := lookupKey(entry, "sqlitepath", "sqlite_path", "sqlite-path"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("sqlite_path: %w", err)
		}
		m.SQLitePath = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "deletemerged", "delete_merged", "delete-merged"); ok {
		val, err := toBool(raw)
		if err != nil {
			return fmt.Errorf("delete_merged: %w", err)
		}
		m.DeleteMerged = val
	}
	return nil
}

func applyRunnerSettings(r *RunnerConfig, value interface{}) error {
	entry, err := toKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupKey(entry, "stagger"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("stagger: %w", err)
		}
		r.Stagger = dur
	}
	if raw, ok := lookupKey(entry, "launchrate", "launch_rate", "launch-rate"); ok {
		val, err := toFloat(raw)
		if err != nil {
			return fmt.Errorf("launch_rate: %w", err)
		}
		r.LaunchRate = val
	}
	if raw, ok := lookupKey(entry, "sharddeadline", "shard_deadline", "shard-deadline"); ok {
		dur, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("shard_deadline: %w", err)
		}
		r.ShardDeadline = dur
	}
	return nil
}

func applyTaskSettings(t *TaskLibraryConfig, value interface{}) error {
	entry, err := toKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupKey(entry, "dir"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("dir: %w", err)
		}
		t.Dir = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "paramsfile", "params_file", "params-file"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("params_file: %w", err)
		}
		t.ParamsFile = strings.TrimSpace(val)
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, value interface{}) error {
	entry, err := toKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupKey(entry, "enabled"); ok {
		val, err := toBool(raw)
		if err != nil {
			return fmt.Errorf("enabled: %w", err)
		}
		t.Enabled = val
	}
	if raw, ok := lookupKey(entry, "endpoint"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupKey(entry, "protocol"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupKey(entry, "insecure"); ok {
		val, err := toBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupKey(entry, "sampleratio", "sample_ratio", "sample-ratio"); ok {
		val, err := toFloat(raw)
		if err != nil {
			return fmt.Errorf("sample_ratio: %w", err)
		}
		t.SampleRatio = val
	}
	if raw, ok := lookupKey(entry, "servicename", "service_name", "service-name"); ok {
		val, err := toString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	return nil
}
