package sandbox

import (
	"sort"
	"strings"
	"time"

	"github.com/isdmx/codepool/command"
	"github.com/isdmx/codepool/config"
)

// Config holds the container pool tuning
type Config struct {
	MaxPoolSize      int
	MemoryLimitBytes int64
	CPUPeriod        int64
	CPUQuota         int64
	ExecTimeout      time.Duration
	MonitorInterval  time.Duration
	WorkDir          string
	ImagePrefix      string
	Images           map[string]string
	Environment      map[string]map[string]string
	NetworkDisabled  bool
	CacheTTL         time.Duration
	MaxCodeBytes     int
	MaxOutputBytes   int
	Retry            RetryConfig
}

// RetryConfig holds the backoff policy for transient runtime failures
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultConfig returns the stock limits: five containers per language, 512MiB
// of memory, half a CPU and a ten second execution timeout
func DefaultConfig() Config {
	return Config{
		MaxPoolSize:      5,
		MemoryLimitBytes: 512 * 1024 * 1024,
		CPUPeriod:        100000,
		CPUQuota:         50000,
		ExecTimeout:      10 * time.Second,
		MonitorInterval:  time.Second,
		WorkDir:          "/workspace",
		ImagePrefix:      "compiler-",
		NetworkDisabled:  true,
		CacheTTL:         time.Hour,
		MaxCodeBytes:     64 * 1024,
		MaxOutputBytes:   1024 * 1024,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

// ConfigFrom converts the application configuration
func ConfigFrom(cfg *config.Config) Config {
	images := make(map[string]string)
	env := make(map[string]map[string]string)
	for tag, lang := range cfg.Languages {
		parsed, err := command.ParseLanguage(tag)
		if err != nil {
			continue
		}
		if lang.Image != "" {
			images[parsed.String()] = lang.Image
		}
		if len(lang.Environment) > 0 {
			// viper lowercases map keys; environment variables are conventionally upper case
			vars := make(map[string]string, len(lang.Environment))
			for k, v := range lang.Environment {
				vars[strings.ToUpper(k)] = v
			}
			env[parsed.String()] = vars
		}
	}

	return Config{
		MaxPoolSize:      cfg.Sandbox.MaxPoolSize,
		MemoryLimitBytes: cfg.Sandbox.MemoryLimitBytes,
		CPUPeriod:        cfg.Sandbox.CPUPeriod,
		CPUQuota:         cfg.Sandbox.CPUQuota,
		ExecTimeout:      cfg.GetExecTimeout(),
		MonitorInterval:  cfg.GetMonitorInterval(),
		WorkDir:          cfg.Sandbox.WorkDir,
		ImagePrefix:      cfg.Sandbox.ImagePrefix,
		Images:           images,
		Environment:      env,
		NetworkDisabled:  cfg.Sandbox.NetworkDisabled,
		CacheTTL:         cfg.GetCacheTTL(),
		MaxCodeBytes:     cfg.Sandbox.MaxCodeBytes,
		MaxOutputBytes:   cfg.Sandbox.MaxOutputBytes,
		Retry: RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		},
	}
}

// ImageFor returns the container image for lang
func (c *Config) ImageFor(lang command.Language) string {
	if image, ok := c.Images[lang.String()]; ok {
		return image
	}
	return c.ImagePrefix + lang.String()
}

// ContainerSpecFor returns the spec of a fresh container for lang
func (c *Config) ContainerSpecFor(lang command.Language, name string) ContainerSpec {
	env := []string{"LANGUAGE=" + lang.String()}
	extra := c.Environment[lang.String()]
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}

	return ContainerSpec{
		Image:   c.ImageFor(lang),
		Name:    name,
		WorkDir: c.WorkDir,
		Env:     env,
		Cmd:     []string{command.Shell, "-c", "tail -f /dev/null"},
		Labels: map[string]string{
			LabelManaged:  "true",
			LabelLanguage: lang.String(),
		},
		MemoryBytes:     c.MemoryLimitBytes,
		MemorySwapBytes: c.MemoryLimitBytes,
		CPUPeriod:       c.CPUPeriod,
		CPUQuota:        c.CPUQuota,
		NetworkDisabled: c.NetworkDisabled,
	}
}

// Container labels set on every pool container
const (
	LabelManaged  = "codepool.managed"
	LabelLanguage = "codepool.language"
)
