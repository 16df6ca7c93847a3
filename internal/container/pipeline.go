package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"droidium/internal/deployment"
	"droidium/internal/device"
	"droidium/internal/identifier"
	"droidium/internal/instrumentation"
	"droidium/internal/manifest"
	"droidium/internal/signing"
)

// ErrNotDeployed is returned when undeploying an unknown deployment.
var ErrNotDeployed = errors.New("not deployed")

// Deploy deploys the configured deployment called name.
func (c *Container) Deploy(ctx context.Context, name string) error {
	d, ok := c.Settings().Deployment(name)
	if !ok {
		return fmt.Errorf("deploy %s: deployment not declared", name)
	}
	return c.DeployArchive(ctx, name, d.APK)
}

// DeployAll deploys every configured deployment in declaration order and
// stops at the first failure.
func (c *Container) DeployAll(ctx context.Context) error {
	for _, d := range c.Settings().Deployments {
		if err := c.DeployArchive(ctx, d.Name, d.APK); err != nil {
			return err
		}
	}
	return nil
}

// DeployArchive installs archive under name. When the deployment declares
// instrumentation, the application is resigned and a server rebuilt for
// it is signed, installed and started. A failure leaves the deployment
// Failed and does not affect other deployments.
func (c *Container) DeployArchive(ctx context.Context, name, archive string) error {
	if err := c.begin(name, archive); err != nil {
		return err
	}

	decision := c.decider.Decide(instrumentation.Event{Kind: instrumentation.Deployed, Name: name, Archive: archive})

	var err error
	switch decision.Action {
	case instrumentation.Perform:
		err = c.performInstrumentation(ctx, decision)
	default:
		err = c.installPlain(ctx, name, archive)
	}
	if err != nil {
		c.fail(name, err)
		return fmt.Errorf("deploy %s: %w", name, err)
	}

	c.mu.Lock()
	if err := c.devices.AddDeployment(c.device, name); err != nil {
		c.logger.Printf("warning: %v", err)
	}
	c.mu.Unlock()
	return nil
}

// begin records a new deployment in the Deployed state.
func (c *Container) begin(name, archive string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.stopped {
		return fmt.Errorf("deploy %s: container %s not running", name, c.name)
	}
	if st, ok := c.statuses[name]; ok && !st.State.Terminal() {
		return fmt.Errorf("deploy %s: already %s", name, st.State)
	}
	if c.undeploying[name] {
		return fmt.Errorf("deploy %s: undeploy in progress", name)
	}
	if _, ok := c.statuses[name]; !ok {
		c.order = append(c.order, name)
	}
	c.statuses[name] = &Status{Name: name, Archive: archive}
	return c.transitionUnlocked(name, StateDeployed, archive, 0)
}

func (c *Container) installPlain(ctx context.Context, name, archive string) error {
	badging, err := c.inspector.Badging(ctx, archive)
	if err != nil {
		return err
	}
	c.update(name, func(st *Status) { st.Package = badging.Package })
	return c.adb.Install(ctx, archive)
}

func (c *Container) performInstrumentation(ctx context.Context, decision instrumentation.Decision) error {
	name, archive := decision.Name, decision.Archive
	settings := c.Settings()
	c.update(name, func(st *Status) {
		st.Instrumented = true
		st.Port = decision.Config.Port()
	})

	app, err := c.applicationDeployment(ctx, name, archive)
	if err != nil {
		return err
	}

	server, err := c.serverDeployment(ctx, name, app, decision.Config, settings.Server.APK)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := c.adb.Install(ctx, app.ResignedPath); err != nil {
		return err
	}
	if err := c.adb.Install(ctx, server.ResignedPath); err != nil {
		return err
	}
	if err := c.transition(name, StateServerInstalled, server.ResignedPath, time.Since(start)); err != nil {
		return err
	}

	start = time.Now()
	port := server.Port()
	if err := c.adb.Forward(ctx, port, port); err != nil {
		return err
	}
	err = c.adb.Instrument(ctx, deviceInstrumentOptions(server, app, settings.Server.Runner))
	if err != nil {
		return err
	}
	// the server runs inside the process of the package it instruments
	if err := c.adb.WaitForProcess(ctx, app.BasePackage); err != nil {
		return err
	}
	return c.transition(name, StateInstrumented, server.ServerPackage, time.Since(start))
}

// applicationDeployment resigns the application and registers it. A record
// left by an earlier deployment of the same archive is reused.
func (c *Container) applicationDeployment(ctx context.Context, name, archive string) (*deployment.Deployment, error) {
	start := time.Now()

	c.mu.RLock()
	app, err := c.apps.Get(archive)
	c.mu.RUnlock()

	if err != nil {
		resigned, err := c.signer.Resign(ctx, archive)
		if err != nil {
			return nil, err
		}
		badging, err := c.inspector.Badging(ctx, resigned)
		if err != nil {
			return nil, err
		}
		app = &deployment.Deployment{
			Name:          name,
			SourceArchive: archive,
			DeployPath:    archive,
			ResignedPath:  resigned,
			BasePackage:   badging.Package,
			MainActivity:  badging.LaunchableActivity,
		}
		c.mu.Lock()
		err = c.apps.Add(app)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	c.update(name, func(st *Status) { st.Package = app.BasePackage })
	if err := c.transition(name, StateResigned, app.ResignedPath, time.Since(start)); err != nil {
		return nil, err
	}
	return app, nil
}

// serverDeployment rebuilds and signs a server targeting app. A server
// built earlier for the same archive and port is reused.
func (c *Container) serverDeployment(ctx context.Context, name string, app *deployment.Deployment, cfg *instrumentation.Configuration, serverAPK string) (*deployment.ServerDeployment, error) {
	c.mu.RLock()
	existing, err := c.servers.Get(deployment.ServerKey(app.Key(), cfg.Port()))
	c.mu.RUnlock()
	if err == nil {
		c.update(name, func(st *Status) { st.ServerPackage = existing.ServerPackage })
		if err := c.transition(name, StateServerRebuilt, existing.RebuiltPath, 0); err != nil {
			return nil, err
		}
		if err := c.transition(name, StateServerSigned, existing.ResignedPath, 0); err != nil {
			return nil, err
		}
		return existing, nil
	}

	start := time.Now()
	rebuilt, err := c.rebuilder.Rebuild(ctx, serverAPK, app.BasePackage)
	if err != nil {
		return nil, err
	}
	c.update(name, func(st *Status) { st.ServerPackage = rebuilt.ServerPackage })
	if err := c.transition(name, StateServerRebuilt, rebuilt.Rebuilt, time.Since(start)); err != nil {
		return nil, err
	}

	start = time.Now()
	signed := c.ids.Path(c.WorkDir(), identifier.KindAPK)
	if err := c.signer.Sign(ctx, rebuilt.Rebuilt, signed); err != nil {
		return nil, err
	}

	server, err := deployment.NewServerDeployment(deployment.ServerDeployment{
		Name:          name,
		WorkingCopy:   rebuilt.WorkingCopy,
		RebuiltPath:   rebuilt.Rebuilt,
		ResignedPath:  signed,
		ServerPackage: rebuilt.ServerPackage,
		Instrumented:  app,
		Config:        cfg,
	})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	err = c.servers.Add(server)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := c.transition(name, StateServerSigned, signed, time.Since(start)); err != nil {
		return nil, err
	}
	return server, nil
}

// Undeploy removes the deployment's instrumentation server, if any, and
// the application, and evicts its drivers. Secondary failures are logged.
func (c *Container) Undeploy(ctx context.Context, name string) error {
	c.mu.Lock()
	st, ok := c.statuses[name]
	var status Status
	if ok {
		status = *st
	}
	switch {
	case !ok:
		c.mu.Unlock()
		return fmt.Errorf("undeploy %s: %w", name, ErrNotDeployed)
	case status.State == StateUndeployed:
		c.mu.Unlock()
		return fmt.Errorf("undeploy %s: already undeployed", name)
	case c.undeploying[name]:
		c.mu.Unlock()
		return fmt.Errorf("undeploy %s: already in progress", name)
	}
	c.undeploying[name] = true
	c.evictDriversUnlocked(name)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.undeploying, name)
		c.mu.Unlock()
	}()

	decision := c.decider.Decide(instrumentation.Event{Kind: instrumentation.Undeployed, Name: name, Archive: status.Archive})
	if decision.Action == instrumentation.Remove && !status.Instrumented {
		c.logger.Printf("warning: %s declares instrumentation but was deployed without it", name)
	}
	failed := status.State == StateFailed

	if status.Instrumented {
		start := time.Now()
		if status.Port != 0 {
			if err := c.adb.RemoveForward(ctx, status.Port); err != nil {
				c.logger.Printf("warning: %v", err)
			}
		}
		if status.ServerPackage != "" {
			if err := c.adb.Uninstall(ctx, status.ServerPackage); err != nil {
				c.logger.Printf("warning: %v", err)
			}
		}
		if !failed {
			if err := c.transition(name, StateInstrumentationRemoved, status.ServerPackage, time.Since(start)); err != nil {
				c.logger.Printf("warning: %v", err)
			}
		}
	}

	start := time.Now()
	if status.Package != "" {
		if err := c.adb.Uninstall(ctx, status.Package); err != nil {
			c.logger.Printf("warning: %v", err)
		}
	}

	c.mu.Lock()
	c.devices.RemoveDeployment(c.device, name)
	c.mu.Unlock()

	if failed {
		c.logger.Printf("cleaned up failed deployment %s", name)
		return nil
	}
	if err := c.transition(name, StateUndeployed, status.Package, time.Since(start)); err != nil {
		c.logger.Printf("warning: %v", err)
	}
	return nil
}

// transition moves name to state, journals it and saves the snapshot.
func (c *Container) transition(name string, to State, artifact string, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionUnlocked(name, to, artifact, d)
}

func (c *Container) transitionUnlocked(name string, to State, artifact string, d time.Duration) error {
	st := c.statuses[name]
	if !CanTransition(st.State, to) {
		return fmt.Errorf("deployment %s cannot move from %q to %q", name, st.State, to)
	}
	st.State = to
	st.Updated = time.Now()
	c.record(Entry{
		Container:  c.name,
		Deployment: name,
		State:      to,
		Artifact:   artifact,
		Duration:   float64(d.Microseconds()) / 1000,
	})
	return nil
}

// fail moves name to Failed, keeping the error.
func (c *Container) fail(name string, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.statuses[name]
	if !CanTransition(st.State, StateFailed) {
		return
	}
	st.State = StateFailed
	st.Error = cause.Error()
	st.Updated = time.Now()
	c.record(Entry{Container: c.name, Deployment: name, State: StateFailed, Error: st.Error, Artifact: failedArtifact(cause)})
	c.logger.Printf("deployment %s failed: %v", name, cause)
}

// record journals entry and saves the snapshot. Caller must hold the lock.
func (c *Container) record(entry Entry) {
	if err := c.journal.Log(entry); err != nil {
		c.logger.Printf("warning: %v", err)
	}
	if err := c.saveStateUnlocked(); err != nil {
		c.logger.Printf("warning: failed to save state: %v", err)
	}
}

func (c *Container) update(name string, fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.statuses[name])
}

// failedArtifact names the artifact a step-specific error refers to.
func failedArtifact(err error) string {
	var (
		rerr  *manifest.RebuildError
		serr  *signing.SigningError
		kserr *signing.KeyStoreError
	)
	switch {
	case errors.As(err, &rerr):
		return rerr.Path
	case errors.As(err, &serr):
		return serr.Input
	case errors.As(err, &kserr):
		return kserr.Path
	}
	return ""
}

func deviceInstrumentOptions(server *deployment.ServerDeployment, app *deployment.Deployment, runner string) device.InstrumentOptions {
	return device.InstrumentOptions{
		ServerPackage: server.ServerPackage,
		Runner:        runner,
		MainActivity:  app.MainActivity,
		Port:          server.Port(),
	}
}
