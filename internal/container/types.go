// Package container implements the lifecycle object of one test container:
// it owns the working directory, the device and deployment registries, the
// instrumentation decider and the activity mapper, and drives each
// deployment through the install and instrumentation pipeline.
package container

import (
	"log"
	"sync"
	"time"

	"droidium/internal/activity"
	"droidium/internal/config"
	"droidium/internal/deployment"
	"droidium/internal/device"
	"droidium/internal/executor"
	"droidium/internal/identifier"
	"droidium/internal/instrumentation"
	"droidium/internal/manifest"
	"droidium/internal/signing"
)

// Config holds configuration for creating a Container.
type Config struct {
	// Name is the container qualifier recorded with its device.
	Name     string
	Settings *config.Config
	// Tools runs keytool, jarsigner and aapt. Nil selects an executor from
	// Settings.Executor.
	Tools executor.Executor
	// Device runs adb. Nil selects a local executor.
	Device executor.Executor
	Logger *log.Logger
}

// Status is the pipeline progress of one deployment.
type Status struct {
	Name          string    `json:"name"`
	Archive       string    `json:"archive"`
	State         State     `json:"state"`
	Instrumented  bool      `json:"instrumented"`
	Package       string    `json:"package,omitempty"`
	ServerPackage string    `json:"server_package,omitempty"`
	Port          int       `json:"port,omitempty"`
	Error         string    `json:"error,omitempty"`
	Updated       time.Time `json:"updated"`
}

// Container is created at container start and destroyed at container stop.
// Deploy and Undeploy run synchronously in the caller; driver attachment
// may happen concurrently.
type Container struct {
	name     string
	tools    executor.Executor
	devExec  executor.Executor
	logger   *log.Logger
	ids      identifier.Generator
	settings *config.Config

	workDir   string
	statePath string
	journal   *Journal

	adb       *device.Client
	signer    *signing.Signer
	rebuilder *manifest.Rebuilder
	inspector *manifest.Inspector
	decider   *instrumentation.Decider
	devices   *device.Registry
	apps      *deployment.Registry[*deployment.Deployment]
	servers   *deployment.Registry[*deployment.ServerDeployment]
	mapper    *activity.Mapper

	mu         sync.RWMutex // protects the fields below
	started    bool
	stopped    bool
	device     device.Device
	activities *activity.Manager
	statuses   map[string]*Status
	order      []string
	drivers    map[activity.Driver]string
	// undeploying names deployments whose teardown is running; they accept
	// no drivers.
	undeploying map[string]bool
}
