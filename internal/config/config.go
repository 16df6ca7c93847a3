// Package config loads the YAML configuration of a droidium container.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"droidium/internal/executor"
	"droidium/internal/instrumentation"
	"droidium/internal/manifest"
	"droidium/internal/signing"
)

// Executor modes.
const (
	ModeLocal  = "local"
	ModeDocker = "docker"
)

// AndroidConfig locates the Android SDK tools.
type AndroidConfig struct {
	ADB        string `yaml:"adb"`
	AAPT       string `yaml:"aapt"`
	AndroidJar string `yaml:"android_jar"`
	// Serial selects the device; empty means the single online device.
	Serial  string        `yaml:"serial,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ExecutorConfig selects how SDK tools are run.
type ExecutorConfig struct {
	Mode  string `yaml:"mode"`
	Image string `yaml:"image,omitempty"`
	// Mounts are extra host directories visible to docker-run tools. The
	// working directory and configured package directories are always
	// mounted.
	Mounts []string `yaml:"mounts,omitempty"`
}

// ServerConfig describes the instrumentation server package.
type ServerConfig struct {
	APK string `yaml:"apk"`
	// Template overrides the bundled manifest template.
	Template     string                `yaml:"template,omitempty"`
	Placeholders manifest.Placeholders `yaml:"placeholders,omitempty"`
	Runner       string                `yaml:"runner,omitempty"`
}

// MonitorConfig bounds device-side waits.
type MonitorConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// InstrumentationConfig marks a deployment as instrumented.
type InstrumentationConfig struct {
	Port instrumentation.PortValue `yaml:"port"`
}

// DeploymentConfig declares one application package.
type DeploymentConfig struct {
	Name            string                 `yaml:"name"`
	APK             string                 `yaml:"apk"`
	Instrumentation *InstrumentationConfig `yaml:"instrumentation,omitempty"`
}

// Config is the top-level configuration.
type Config struct {
	// WorkDir is the root under which each container creates its working
	// directory.
	WorkDir       string `yaml:"workdir"`
	RetainWorkDir bool   `yaml:"retain_workdir"`
	// Journal defaults to journal.jsonl in the container's working
	// directory.
	Journal     string             `yaml:"journal,omitempty"`
	Android     AndroidConfig      `yaml:"android"`
	Signing     signing.Config     `yaml:"signing"`
	Executor    ExecutorConfig     `yaml:"executor"`
	Server      ServerConfig       `yaml:"server"`
	Monitor     MonitorConfig      `yaml:"monitor"`
	Deployments []DeploymentConfig `yaml:"deployments"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	src := e.Path
	if src == "" {
		src = "configuration"
	}
	return fmt.Sprintf("invalid %s: %s", src, strings.Join(e.Problems, "; "))
}

// Load reads and validates the configuration at path, filling defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.Path = path
		}
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with no deployments.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "droidium")
	}
	if c.Android.ADB == "" {
		c.Android.ADB = "adb"
	}
	if c.Android.AAPT == "" {
		c.Android.AAPT = "aapt"
	}
	if c.Android.AndroidJar == "" {
		if home := os.Getenv("ANDROID_HOME"); home != "" {
			c.Android.AndroidJar = filepath.Join(home, "platforms", "android-19", "android.jar")
		}
	}
	if c.Android.Timeout == 0 {
		c.Android.Timeout = 2 * time.Minute
	}
	c.Signing = c.Signing.WithDefaults()
	if c.Executor.Mode == "" {
		c.Executor.Mode = ModeLocal
	}
	if c.Executor.Mode == ModeDocker && c.Executor.Image == "" {
		c.Executor.Image = executor.DefaultImage
	}
	if c.Monitor.Attempts == 0 {
		c.Monitor.Attempts = executor.DefaultMonitorAttempts
	}
	if c.Monitor.Delay == 0 {
		c.Monitor.Delay = executor.DefaultMonitorDelay
	}
}

// Validate checks the configuration before any tool runs.
func (c *Config) Validate() error {
	var problems []string

	if err := c.Signing.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Executor.Mode {
	case ModeLocal, ModeDocker:
	default:
		problems = append(problems, fmt.Sprintf("executor mode %q must be %s or %s", c.Executor.Mode, ModeLocal, ModeDocker))
	}
	if c.Monitor.Attempts < 1 {
		problems = append(problems, "monitor attempts must be at least 1")
	}
	if c.Monitor.Delay < 0 {
		problems = append(problems, "monitor delay must not be negative")
	}

	seen := make(map[string]bool, len(c.Deployments))
	instrumented := false
	for i, d := range c.Deployments {
		switch {
		case d.Name == "":
			problems = append(problems, fmt.Sprintf("deployment %d has no name", i))
		case seen[d.Name]:
			problems = append(problems, fmt.Sprintf("deployment %s declared twice", d.Name))
		}
		seen[d.Name] = true
		if d.APK == "" {
			problems = append(problems, fmt.Sprintf("deployment %s has no apk", d.Name))
		}
		if d.Instrumentation != nil {
			instrumented = true
		}
	}
	if _, err := c.Declarations(); err != nil {
		problems = append(problems, err.Error())
	}
	if instrumented {
		if c.Server.APK == "" {
			problems = append(problems, "server apk required for instrumented deployments")
		}
		if c.Android.AndroidJar == "" {
			problems = append(problems, "android_jar required for instrumented deployments")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Declarations returns the validated instrumentation declarations.
func (c *Config) Declarations() (instrumentation.Declarations, error) {
	decls := instrumentation.Declarations{}
	for _, d := range c.Deployments {
		if d.Instrumentation == nil {
			continue
		}
		cfg, err := d.Instrumentation.Port.Configuration()
		if err != nil {
			return nil, fmt.Errorf("deployment %s: %w", d.Name, err)
		}
		decls[d.Name] = cfg
	}
	if err := decls.Validate(); err != nil {
		return nil, err
	}
	return decls, nil
}

// Deployment returns the declared deployment called name.
func (c *Config) Deployment(name string) (DeploymentConfig, bool) {
	for _, d := range c.Deployments {
		if d.Name == name {
			return d, true
		}
	}
	return DeploymentConfig{}, false
}

// Mounts returns the host directories a docker executor must see: the
// configured mounts, the work root and the directories of every package.
func (c *Config) Mounts() []string {
	seen := map[string]bool{}
	var out []string
	add := func(dir string) {
		if dir == "" || dir == "." {
			return
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	for _, m := range c.Executor.Mounts {
		add(m)
	}
	add(c.WorkDir)
	add(filepath.Dir(c.Signing.KeyStore))
	add(filepath.Dir(c.Signing.DefaultKeyStore))
	if c.Android.AndroidJar != "" {
		add(filepath.Dir(c.Android.AndroidJar))
	}
	if c.Server.APK != "" {
		add(filepath.Dir(c.Server.APK))
	}
	for _, d := range c.Deployments {
		add(filepath.Dir(d.APK))
	}
	return out
}
