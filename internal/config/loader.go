package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding
// config.yaml. Files listed under include are merged in order.
func Load(configPath string) (*Floor, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes configuration from YAML bytes and applies defaults.
// Includes are not followed.
func Parse(data []byte) (*Floor, error) {
	var cfg Floor
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out := applyDefaults(&cfg)
	if err := validate(out); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return out, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Floor, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeConfig(cfg, included)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Floor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Floor
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst. Scalars from src override when set;
// teams and offices are appended.
func mergeConfig(dst, src *Floor) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.Service.DrainTimeout != 0 {
		dst.Service.DrainTimeout = src.Service.DrainTimeout
	}
	if src.Service.LockPath != "" {
		dst.Service.LockPath = src.Service.LockPath
	}
	if src.Journal.Path != "" {
		dst.Journal.Path = src.Journal.Path
	}
	if src.Journal.Enabled {
		dst.Journal.Enabled = true
	}
	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.MaxInvokeTimeout != 0 {
		dst.API.MaxInvokeTimeout = src.API.MaxInvokeTimeout
	}
	if src.API.MaxConcurrentSync != 0 {
		dst.API.MaxConcurrentSync = src.API.MaxConcurrentSync
	}
	if src.API.RateLimit.RequestsPerSecond != 0 {
		dst.API.RateLimit = src.API.RateLimit
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
	if src.Metrics.Namespace != "" {
		dst.Metrics.Namespace = src.Metrics.Namespace
	}
	if src.Webhooks != nil {
		if dst.Webhooks == nil {
			dst.Webhooks = &WebhooksConfig{}
		}
		if src.Webhooks.Listen != "" {
			dst.Webhooks.Listen = src.Webhooks.Listen
		}
		dst.Webhooks.Endpoints = append(dst.Webhooks.Endpoints, src.Webhooks.Endpoints...)
	}
	dst.Teams = append(dst.Teams, src.Teams...)
	dst.Offices = append(dst.Offices, src.Offices...)
}

// applyDefaults fills zero values from Defaults.
func applyDefaults(cfg *Floor) *Floor {
	defaults := Defaults()
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.DrainTimeout == 0 {
		cfg.Service.DrainTimeout = defaults.Service.DrainTimeout
	}
	if cfg.Service.LockPath == "" {
		cfg.Service.LockPath = defaults.Service.LockPath
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaults.Journal.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxInvokeTimeout == 0 {
		cfg.API.MaxInvokeTimeout = defaults.API.MaxInvokeTimeout
	}
	if cfg.API.MaxConcurrentSync == 0 {
		cfg.API.MaxConcurrentSync = defaults.API.MaxConcurrentSync
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = defaults.Metrics.Namespace
	}
	if cfg.Webhooks != nil {
		for i := range cfg.Webhooks.Endpoints {
			if cfg.Webhooks.Endpoints[i].SignatureHeader == "" {
				cfg.Webhooks.Endpoints[i].SignatureHeader = DefaultSignatureHeader
			}
		}
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unknown variables are left in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// UnresolvedEnvVars lists ${VAR} references left in property values.
func UnresolvedEnvVars(cfg *Floor) []string {
	var out []string
	check := func(where string, props map[string]string) {
		for key, value := range props {
			if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
				out = append(out, fmt.Sprintf("%s.%s: ${%s}", where, key, m[1]))
			}
		}
	}
	for _, team := range cfg.Teams {
		check("teams."+team.Name, team.Properties)
	}
	for _, office := range cfg.Offices {
		for _, mo := range office.ManagedObjects {
			check(office.Name+".managed_objects."+mo.Name, mo.Properties)
		}
		for _, gov := range office.Governances {
			check(office.Name+".governances."+gov.Name, gov.Properties)
		}
		for _, fn := range office.Functions {
			check(office.Name+".functions."+fn.Name, fn.Properties)
		}
	}
	return out
}

// validate checks structural settings. Cross references between offices,
// teams, objects and functions are checked by the compiler, which reports
// every problem at once.
func validate(cfg *Floor) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.DrainTimeout < 0 {
		return fmt.Errorf("service.drain_timeout must not be negative")
	}
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	if cfg.API.Enabled {
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if m := envVarPattern.FindStringSubmatch(tok.Token); len(m) > 1 {
				return fmt.Errorf("api.auth.tokens[%d].token: environment variable ${%s} is not set", i, m[1])
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
		if cfg.API.RateLimit.RequestsPerSecond < 0 || cfg.API.RateLimit.Burst < 0 {
			return fmt.Errorf("api.rate_limit must not be negative")
		}
	}

	if err := validateWebhooks(cfg.Webhooks); err != nil {
		return err
	}

	for i, office := range cfg.Offices {
		for j, fn := range office.Functions {
			for k, flow := range fn.Flows {
				switch flow.Strategy {
				case "", StrategySequential, StrategyParallel, StrategyAsynchronous:
				default:
					return fmt.Errorf("offices[%d].functions[%d].flows[%d]: strategy must be sequential, parallel or asynchronous (got %q)",
						i, j, k, flow.Strategy)
				}
			}
		}
	}
	return nil
}

// validateWebhooks checks endpoint settings. Whether the office function
// exists is left to the doctor, which compiles the floor.
func validateWebhooks(wc *WebhooksConfig) error {
	if wc == nil || len(wc.Endpoints) == 0 {
		return nil
	}
	if wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required when endpoints are configured")
	}
	seen := make(map[string]int, len(wc.Endpoints))
	for i, ep := range wc.Endpoints {
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("webhooks.endpoints[%d].path must start with / (got %q)", i, ep.Path)
		}
		if prev, ok := seen[ep.Path]; ok {
			return fmt.Errorf("webhooks.endpoints[%d].path %q duplicates webhooks.endpoints[%d]", i, ep.Path, prev)
		}
		seen[ep.Path] = i
		if ep.Office == "" || ep.Function == "" {
			return fmt.Errorf("webhooks.endpoints[%d]: office and function are required", i)
		}
		if ep.Secret == "" {
			return fmt.Errorf("webhooks.endpoints[%d].secret is required", i)
		}
		if m := envVarPattern.FindStringSubmatch(ep.Secret); len(m) > 1 {
			return fmt.Errorf("webhooks.endpoints[%d].secret: environment variable ${%s} is not set", i, m[1])
		}
	}
	return nil
}
