package container

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"

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

// StateFile is the snapshot's name inside the working directory.
const StateFile = "state.json"

// New creates a container. Nothing touches the disk or the device before
// Start.
func New(cfg Config) (*Container, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("container name cannot be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[container] ", log.LstdFlags|log.Lmsgprefix)
	}
	if cfg.Settings == nil {
		cfg.Settings = config.Default()
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Tools == nil {
		tools, err := NewToolExecutor(cfg.Settings, cfg.Logger)
		if err != nil {
			return nil, err
		}
		cfg.Tools = tools
	}
	if cfg.Device == nil {
		cfg.Device = executor.NewLocalExecutor(cfg.Logger)
	}

	settings := cfg.Settings
	c := &Container{
		name:     cfg.Name,
		tools:    cfg.Tools,
		devExec:  cfg.Device,
		logger:   cfg.Logger,
		settings: settings,
		adb: device.NewClient(cfg.Device, device.ClientConfig{
			ADB:      settings.Android.ADB,
			Attempts: settings.Monitor.Attempts,
			Delay:    settings.Monitor.Delay,
			Timeout:  settings.Android.Timeout,
			Logger:   cfg.Logger,
		}),
		inspector: manifest.NewInspector(cfg.Tools, settings.Android.AAPT, settings.Android.Timeout),
		decider:   instrumentation.NewDecider(cfg.Logger),
		devices:   device.NewRegistry(),
		apps:      deployment.NewRegistry[*deployment.Deployment](),
		servers:   deployment.NewRegistry[*deployment.ServerDeployment](),
		mapper:    activity.NewMapper(),
		statuses:  make(map[string]*Status),
		drivers:   make(map[activity.Driver]string),

		undeploying: make(map[string]bool),
	}
	return c, nil
}

// NewToolExecutor returns the executor selected by the configuration.
func NewToolExecutor(settings *config.Config, logger *log.Logger) (executor.Executor, error) {
	switch settings.Executor.Mode {
	case config.ModeDocker:
		cli, err := executor.NewDockerClient()
		if err != nil {
			return nil, err
		}
		return executor.NewDockerExecutor(cli, executor.DockerConfig{
			Image:  settings.Executor.Image,
			Mounts: settings.Mounts(),
			Logger: logger,
		}), nil
	case config.ModeLocal:
		return executor.NewLocalExecutor(logger), nil
	}
	return nil, fmt.Errorf("unknown executor mode %q", settings.Executor.Mode)
}

// Start creates the working directory, selects and registers the device
// and loads the instrumentation declarations.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("container %s already started", c.name)
	}
	c.started = true
	c.mu.Unlock()

	settings := c.Settings()
	if err := os.MkdirAll(settings.WorkDir, 0755); err != nil {
		return fmt.Errorf("create work root %s: %w", settings.WorkDir, err)
	}
	workDir := filepath.Join(settings.WorkDir, c.name+"-"+c.ids.Name(identifier.KindDirectory))
	if err := os.Mkdir(workDir, 0755); err != nil {
		return fmt.Errorf("create working directory %s: %w", workDir, err)
	}

	journalPath := settings.Journal
	if journalPath == "" {
		journalPath = filepath.Join(workDir, "journal.jsonl")
	}
	journal, err := OpenJournal(journalPath)
	if err != nil {
		os.RemoveAll(workDir)
		return err
	}

	signer, err := signing.NewSigner(c.tools, settings.Signing, workDir, c.logger)
	if err != nil {
		journal.Close()
		os.RemoveAll(workDir)
		return err
	}

	c.mu.Lock()
	c.workDir = workDir
	c.statePath = filepath.Join(workDir, StateFile)
	c.journal = journal
	c.signer = signer
	c.rebuilder = manifest.NewRebuilder(c.tools, manifest.Config{
		AAPT:         settings.Android.AAPT,
		AndroidJar:   settings.Android.AndroidJar,
		Template:     settings.Server.Template,
		Placeholders: settings.Server.Placeholders,
		Timeout:      settings.Android.Timeout,
	}, workDir, c.logger)
	c.mu.Unlock()

	if err := c.Reload(settings); err != nil {
		c.abortStart()
		return err
	}

	dev, err := c.selectDevice(ctx, settings.Android.Serial)
	if err != nil {
		c.abortStart()
		return err
	}
	c.adb = c.adb.WithSerial(dev.Serial)
	if err := c.adb.WaitForBoot(ctx); err != nil {
		c.abortStart()
		return err
	}
	c.mu.Lock()
	c.activities = activity.NewManager(c.mapper, c.adb)
	c.device = dev
	c.devices.Put(dev, device.Metadata{ContainerQualifier: c.name})
	if err := c.saveStateUnlocked(); err != nil {
		c.logger.Printf("warning: failed to save state: %v", err)
	}
	c.mu.Unlock()

	c.logger.Printf("started container %s on %s (workdir=%s)", c.name, dev.Serial, workDir)
	return nil
}

func (c *Container) abortStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.journal.Close()
	if !c.settings.RetainWorkDir {
		os.RemoveAll(c.workDir)
	}
	c.started = false
}

// selectDevice returns the configured device, or the only online one.
func (c *Container) selectDevice(ctx context.Context, serial string) (device.Device, error) {
	listed, err := c.adb.Devices(ctx)
	if err != nil {
		return device.Device{}, err
	}

	online := device.NewRegistry()
	for _, d := range listed {
		if serial != "" && d.Serial == serial {
			if !d.Online() {
				return device.Device{}, fmt.Errorf("device %s is %s", serial, d.State)
			}
			return d, nil
		}
		if d.Online() {
			online.Put(d, device.Metadata{})
		}
	}
	if serial != "" {
		return device.Device{}, fmt.Errorf("device %s not attached", serial)
	}
	d, err := online.Single()
	if err != nil {
		return device.Device{}, fmt.Errorf("select device: %w", err)
	}
	return d, nil
}

// Reload replaces the settings and the instrumentation declarations used
// by later deployments. Already deployed packages are not affected.
func (c *Container) Reload(settings *config.Config) error {
	decls, err := settings.Declarations()
	if err != nil {
		return fmt.Errorf("reload container %s: %w", c.name, err)
	}
	if err := c.decider.Load(decls); err != nil {
		return fmt.Errorf("reload container %s: %w", c.name, err)
	}
	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
	return nil
}

// Stop undeploys what is still deployed or failed, unregisters the device and
// removes the working directory unless it is retained. Teardown failures
// are logged, not returned.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("container %s not running", c.name)
	}
	active := make([]string, 0, len(c.order))
	for _, name := range c.order {
		if c.statuses[name].State != StateUndeployed {
			active = append(active, name)
		}
	}
	c.mu.Unlock()

	slices.Reverse(active)
	for _, name := range active {
		if err := c.Undeploy(ctx, name); err != nil {
			c.logger.Printf("warning: undeploy %s: %v", name, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.devices.RemoveByContainerQualifier(c.name)
	c.stopped = true
	if err := c.saveStateUnlocked(); err != nil {
		c.logger.Printf("warning: failed to save state: %v", err)
	}
	if err := c.journal.Close(); err != nil {
		c.logger.Printf("warning: close journal: %v", err)
	}

	if c.settings.RetainWorkDir {
		c.logger.Printf("stopped container %s, retained %s", c.name, c.workDir)
		return nil
	}
	if err := os.RemoveAll(c.workDir); err != nil {
		c.logger.Printf("warning: remove working directory %s: %v", c.workDir, err)
	}
	c.logger.Printf("stopped container %s (%d device(s) released)", c.name, removed)
	return nil
}

// Name returns the container qualifier.
func (c *Container) Name() string {
	return c.name
}

// Settings returns the current configuration.
func (c *Container) Settings() *config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// WorkDir returns the working directory, empty before Start.
func (c *Container) WorkDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workDir
}

// Device returns the device the container runs on.
func (c *Container) Device() device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// Devices returns the container's device registry.
func (c *Container) Devices() *device.Registry {
	return c.devices
}

// Deployments returns the registered application deployments.
func (c *Container) Deployments() []*deployment.Deployment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apps.All()
}

// Servers returns the registered instrumentation server deployments.
func (c *Container) Servers() []*deployment.ServerDeployment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.servers.All()
}

// Status returns a copy of the named deployment's status.
func (c *Container) Status(name string) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// Mapper returns the container's activity mapper.
func (c *Container) Mapper() *activity.Mapper {
	return c.mapper
}

// Activities starts and stops activities on the container's device. It is
// nil before Start.
func (c *Container) Activities() *activity.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activities
}
