// Package instrumentation holds per-deployment instrumentation settings and
// decides, for each deployment lifecycle event, whether an instrumentation
// server has to be installed or removed.
package instrumentation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Legal TCP port range for the server.
const (
	MinPort = 1
	MaxPort = 65535
)

// ConfigError reports an invalid or conflicting instrumentation setting.
type ConfigError struct {
	Deployment string
	Port       string
	// Conflict names the other deployment declaring the same port.
	Conflict string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Conflict != "" {
		return fmt.Sprintf("instrumentation port %s declared by both %s and %s", e.Port, e.Conflict, e.Deployment)
	}
	if e.Deployment == "" {
		return fmt.Sprintf("instrumentation port %q: %v", e.Port, e.Err)
	}
	return fmt.Sprintf("instrumentation of %s: port %q: %v", e.Deployment, e.Port, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Configuration is the instrumentation setting of one deployment.
type Configuration struct {
	port      int
	validated bool
}

// New creates a configuration for a numeric port.
func New(port int) *Configuration {
	return &Configuration{port: port}
}

// Parse creates a configuration from a textual port.
func Parse(text string) (*Configuration, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ConfigError{Port: text, Err: fmt.Errorf("port not set")}
	}
	port, err := strconv.Atoi(text)
	if err != nil {
		return nil, &ConfigError{Port: text, Err: fmt.Errorf("not a number")}
	}
	return New(port), nil
}

// Port returns the configured port.
func (c *Configuration) Port() int {
	return c.port
}

// Validate checks the port range and marks the configuration validated.
func (c *Configuration) Validate() error {
	if c.port < MinPort || c.port > MaxPort {
		return &ConfigError{Port: strconv.Itoa(c.port), Err: fmt.Errorf("out of range %d-%d", MinPort, MaxPort)}
	}
	c.validated = true
	return nil
}

// Validated reports whether Validate has succeeded.
func (c *Configuration) Validated() bool {
	return c.validated
}

// Equal compares by port. A nil configuration equals nothing.
func (c *Configuration) Equal(other *Configuration) bool {
	if c == nil || other == nil {
		return false
	}
	return c.port == other.port
}

func (c *Configuration) String() string {
	return "port " + strconv.Itoa(c.port)
}

// PortValue is a port as written in YAML, accepted as an integer or a string.
type PortValue string

// UnmarshalYAML accepts any scalar.
func (p *PortValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: instrumentation port must be a scalar", node.Line)
	}
	*p = PortValue(node.Value)
	return nil
}

// Configuration parses the value.
func (p PortValue) Configuration() (*Configuration, error) {
	return Parse(string(p))
}

// Declarations maps deployment names to their instrumentation settings.
type Declarations map[string]*Configuration

// Names returns the declared deployment names, sorted.
func (d Declarations) Names() []string {
	names := make([]string, 0, len(d))
	for n := range d {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate validates every configuration and rejects two deployments
// declaring the same port.
func (d Declarations) Validate() error {
	owners := make(map[int]string, len(d))
	for _, name := range d.Names() {
		c := d[name]
		if c == nil {
			return &ConfigError{Deployment: name, Err: fmt.Errorf("port not set")}
		}
		if err := c.Validate(); err != nil {
			return &ConfigError{Deployment: name, Port: strconv.Itoa(c.port), Err: unwrapConfig(err)}
		}
		if other, ok := owners[c.port]; ok {
			return &ConfigError{Deployment: name, Port: strconv.Itoa(c.port), Conflict: other}
		}
		owners[c.port] = name
	}
	return nil
}

func unwrapConfig(err error) error {
	if ce, ok := err.(*ConfigError); ok && ce.Err != nil {
		return ce.Err
	}
	return err
}
