// Command droidium runs an Android test container: it deploys the configured
// packages to a device, instruments the ones that declare a server port and
// tears everything down on exit. It also exposes the signing and server
// rebuild steps on their own.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"droidium/internal/config"
	"droidium/internal/container"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "droidium.yaml", "Path to the container configuration file")
	name := flag.String("name", "android", "Container qualifier recorded with the device")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "droidium v%s - Android test container\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: droidium [options] <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run                          Start the container and deploy every package\n")
		fmt.Fprintf(os.Stderr, "  devices                      List attached devices\n")
		fmt.Fprintf(os.Stderr, "  resign <apk> <out>           Replace the signature of a package\n")
		fmt.Fprintf(os.Stderr, "  rebuild <package> <out>      Build a signed server instrumenting package\n")
		fmt.Fprintf(os.Stderr, "  activities <apk>             List the activities a package declares\n")
		fmt.Fprintf(os.Stderr, "  status <workdir>             Show the deployments of a container\n")
		fmt.Fprintf(os.Stderr, "  history <journal>            Show the pipeline journal\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[droidium] ", log.LstdFlags|log.Lmsgprefix)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	switch args[0] {
	case "run":
		settings := mustLoad(*configPath, true)
		if err := run(ctx, *name, *configPath, settings, logger); err != nil {
			fatal("run: %v", err)
		}
	case "devices":
		if err := listDevices(ctx, mustLoad(*configPath, false), logger); err != nil {
			fatal("devices: %v", err)
		}
	case "resign":
		if len(args) < 3 {
			fatal("resign requires an input package and an output path")
		}
		if err := resign(ctx, mustLoad(*configPath, false), args[1], args[2], logger); err != nil {
			fatal("resign: %v", err)
		}
		fmt.Printf("Resigned %s -> %s\n", args[1], args[2])
	case "rebuild":
		if len(args) < 3 {
			fatal("rebuild requires a target package and an output path")
		}
		pkg, err := rebuild(ctx, mustLoad(*configPath, false), args[1], args[2], logger)
		if err != nil {
			fatal("rebuild: %v", err)
		}
		fmt.Printf("Rebuilt server %s for %s -> %s\n", pkg, args[1], args[2])
	case "activities":
		if len(args) < 2 {
			fatal("activities requires a package")
		}
		if err := listActivities(ctx, mustLoad(*configPath, false), args[1]); err != nil {
			fatal("activities: %v", err)
		}
	case "status":
		if len(args) < 2 {
			fatal("status requires a working directory")
		}
		if err := showStatus(args[1]); err != nil {
			fatal("status: %v", err)
		}
	case "history":
		if len(args) < 2 {
			fatal("history requires a journal path")
		}
		if err := showHistory(args[1]); err != nil {
			fatal("history: %v", err)
		}
	default:
		fatal("unknown command: %s", args[0])
	}
}

// mustLoad loads the configuration. Commands that work without one fall
// back to the defaults when the file does not exist.
func mustLoad(path string, required bool) *config.Config {
	settings, err := config.Load(path)
	if err == nil {
		return settings
	}
	if !required && errors.Is(err, os.ErrNotExist) {
		return config.Default()
	}
	fatal("%v", err)
	return nil
}

func run(ctx context.Context, name, configPath string, settings *config.Config, logger *log.Logger) error {
	c, err := container.New(container.Config{Name: name, Settings: settings, Logger: logger})
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		// ctx is done by the time teardown runs
		if err := c.Stop(context.Background()); err != nil {
			logger.Printf("stop: %v", err)
		}
	}()

	watcher, err := config.NewWatcher(configPath, settings, logger)
	if err != nil {
		return err
	}
	watcher.OnReload(func(cfg *config.Config) {
		if err := c.Reload(cfg); err != nil {
			logger.Printf("configuration rejected: %v", err)
		}
	})
	if err := watcher.Start(ctx); err != nil {
		logger.Printf("warning: configuration reload disabled: %v", err)
	} else {
		defer watcher.Stop()
	}

	failed := 0
	for _, d := range settings.Deployments {
		if err := c.Deploy(ctx, d.Name); err != nil {
			logger.Printf("%v", err)
			failed++
		}
	}
	logger.Printf("container %s ready: %d deployed, %d failed (state in %s)",
		name, len(settings.Deployments)-failed, failed, c.WorkDir())

	<-ctx.Done()
	logger.Printf("shutting down container %s", name)
	return nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "droidium: "+format+"\n", args...)
	os.Exit(1)
}
