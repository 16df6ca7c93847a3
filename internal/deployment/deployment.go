// Package deployment holds the records of installed application and
// instrumentation server packages and the append-only registries keeping
// them for a container's lifetime.
package deployment

import (
	"errors"
	"fmt"
	"strconv"

	"droidium/internal/instrumentation"
)

// Record is anything kept in a Registry.
type Record interface {
	// Key identifies the record within its registry.
	Key() string
}

// Deployment is an application package as deployed to the device.
type Deployment struct {
	Name          string `json:"name"`
	SourceArchive string `json:"source_archive"`
	DeployPath    string `json:"deploy_path"`
	ResignedPath  string `json:"resigned_path"`
	BasePackage   string `json:"base_package"`
	MainActivity  string `json:"main_activity,omitempty"`
}

// Key implements Record.
func (d *Deployment) Key() string {
	return d.SourceArchive
}

// ServerDeployment is an instrumentation server rebuilt for one application
// deployment.
type ServerDeployment struct {
	Name          string `json:"name"`
	SourceArchive string `json:"source_archive"`
	WorkingCopy   string `json:"working_copy"`
	RebuiltPath   string `json:"rebuilt_path"`
	ResignedPath  string `json:"resigned_path"`
	ServerPackage string `json:"server_package"`

	Instrumented *Deployment                    `json:"instrumented"`
	Config       *instrumentation.Configuration `json:"-"`
}

// ErrNoInstrumentedDeployment is returned for a server deployment without
// the application it instruments.
var ErrNoInstrumentedDeployment = errors.New("server deployment without instrumented deployment")

// NewServerDeployment checks that the server references the deployment it
// instruments and a validated configuration.
func NewServerDeployment(s ServerDeployment) (*ServerDeployment, error) {
	if s.Instrumented == nil {
		return nil, fmt.Errorf("server deployment %s: %w", s.Name, ErrNoInstrumentedDeployment)
	}
	if s.Config == nil {
		return nil, fmt.Errorf("server deployment %s: instrumentation configuration not set", s.Name)
	}
	if !s.Config.Validated() {
		if err := s.Config.Validate(); err != nil {
			return nil, fmt.Errorf("server deployment %s: %w", s.Name, err)
		}
	}
	if s.SourceArchive == "" {
		s.SourceArchive = s.Instrumented.SourceArchive
	}
	return &s, nil
}

// Key implements Record. A server is keyed by the archive of the
// application it instruments and its port, so a server rebuilt for a new
// port is kept next to the old one.
func (s *ServerDeployment) Key() string {
	return ServerKey(s.SourceArchive, s.Port())
}

// ServerKey returns the key of the server built for archive on port.
func ServerKey(archive string, port int) string {
	return archive + "#" + strconv.Itoa(port)
}

// Port returns the instrumentation port.
func (s *ServerDeployment) Port() int {
	return s.Config.Port()
}
