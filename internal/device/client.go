package device

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"droidium/internal/executor"
)

// DefaultRunner is the instrumentation class of the server package.
const DefaultRunner = "io.selendroid.server.ServerInstrumentation"

// ClientConfig configures an adb client.
type ClientConfig struct {
	// ADB is the adb command line.
	ADB    string
	Serial string
	// Attempts and Delay bound device-side waits.
	Attempts int
	Delay    time.Duration
	// Timeout bounds each adb invocation; zero means no bound.
	Timeout time.Duration
	Logger  *log.Logger
}

// Client runs adb commands against one device.
type Client struct {
	exec    executor.Executor
	monitor *executor.Monitor
	adb     string
	serial  string
	timeout time.Duration
	logger  *log.Logger
}

// NewClient creates an adb client.
func NewClient(exec executor.Executor, cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[adb] ", log.LstdFlags|log.Lmsgprefix)
	}
	if cfg.ADB == "" {
		cfg.ADB = "adb"
	}
	m := executor.NewMonitor(exec)
	if cfg.Attempts > 0 {
		m.Attempts = cfg.Attempts
	}
	if cfg.Delay > 0 {
		m.Delay = cfg.Delay
	}
	return &Client{
		exec:    exec,
		monitor: m,
		adb:     cfg.ADB,
		serial:  cfg.Serial,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// WithSerial returns a copy of the client bound to serial.
func (c *Client) WithSerial(serial string) *Client {
	cp := *c
	cp.serial = serial
	return &cp
}

// Serial returns the device the client is bound to.
func (c *Client) Serial() string {
	return c.serial
}

func (c *Client) command(args ...string) (executor.Command, error) {
	if c.serial != "" {
		args = append([]string{"-s", c.serial}, args...)
	}
	cmd, err := executor.Tool(c.adb, args...)
	if err != nil {
		return cmd, err
	}
	cmd.Timeout = c.timeout
	return cmd, nil
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	cmd, err := c.command(args...)
	if err != nil {
		return "", err
	}
	res, err := c.exec.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// Devices lists the devices adb knows about.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	cmd, err := executor.Tool(c.adb, "devices")
	if err != nil {
		return nil, err
	}
	cmd.Timeout = c.timeout
	res, err := c.exec.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return ParseDevices(res.Output), nil
}

// Shell runs a shell command on the device.
func (c *Client) Shell(ctx context.Context, args ...string) (string, error) {
	out, err := c.run(ctx, append([]string{"shell"}, args...)...)
	if err != nil {
		return "", fmt.Errorf("shell on %s: %w", c.serial, err)
	}
	return out, nil
}

// Install installs apk, replacing an existing installation.
func (c *Client) Install(ctx context.Context, apk string) error {
	out, err := c.run(ctx, "install", "-r", apk)
	if err != nil {
		return fmt.Errorf("install %s on %s: %w", apk, c.serial, err)
	}
	if failure := failureLine(out); failure != "" {
		return fmt.Errorf("install %s on %s: %s", apk, c.serial, failure)
	}
	c.logger.Printf("installed %s on %s", apk, c.serial)
	return nil
}

// Uninstall removes pkg from the device.
func (c *Client) Uninstall(ctx context.Context, pkg string) error {
	out, err := c.run(ctx, "uninstall", pkg)
	if err != nil {
		return fmt.Errorf("uninstall %s from %s: %w", pkg, c.serial, err)
	}
	if failure := failureLine(out); failure != "" {
		return fmt.Errorf("uninstall %s from %s: %s", pkg, c.serial, failure)
	}
	c.logger.Printf("uninstalled %s from %s", pkg, c.serial)
	return nil
}

// failureLine finds the package manager's failure report; older adb
// versions exit zero on a failed install.
func failureLine(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Failure") || strings.HasPrefix(line, "Error:") {
			return line
		}
	}
	return ""
}

// IsInstalled reports whether pkg is installed.
func (c *Client) IsInstalled(ctx context.Context, pkg string) (bool, error) {
	out, err := c.Shell(ctx, "pm", "list", "packages", pkg)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+pkg {
			return true, nil
		}
	}
	return false, nil
}

// Forward forwards the host port local to the device port remote.
func (c *Client) Forward(ctx context.Context, local, remote int) error {
	if _, err := c.run(ctx, "forward", tcp(local), tcp(remote)); err != nil {
		return fmt.Errorf("forward port %d to %s:%d: %w", local, c.serial, remote, err)
	}
	return nil
}

// RemoveForward removes the forward of host port local.
func (c *Client) RemoveForward(ctx context.Context, local int) error {
	if _, err := c.run(ctx, "forward", "--remove", tcp(local)); err != nil {
		return fmt.Errorf("remove forward of port %d on %s: %w", local, c.serial, err)
	}
	return nil
}

func tcp(port int) string {
	return "tcp:" + strconv.Itoa(port)
}

// InstrumentOptions selects the server to start.
type InstrumentOptions struct {
	ServerPackage string
	// Runner defaults to DefaultRunner.
	Runner       string
	MainActivity string
	Port         int
}

// Instrument starts the instrumentation server.
func (c *Client) Instrument(ctx context.Context, opts InstrumentOptions) error {
	runner := opts.Runner
	if runner == "" {
		runner = DefaultRunner
	}
	component := opts.ServerPackage + "/" + runner
	out, err := c.Shell(ctx, "am", "instrument",
		"-e", "main_activity", opts.MainActivity,
		"-e", "server_port", strconv.Itoa(opts.Port),
		component,
	)
	if err != nil {
		return fmt.Errorf("instrument %s: %w", component, err)
	}
	if strings.Contains(out, "INSTRUMENTATION_FAILED") || strings.Contains(out, "Error:") {
		return fmt.Errorf("instrument %s on %s: %s", component, c.serial, strings.TrimSpace(out))
	}
	c.logger.Printf("instrumented %s on %s (port %d)", component, c.serial, opts.Port)
	return nil
}

// StartActivity starts component ("package/activity").
func (c *Client) StartActivity(ctx context.Context, component string) error {
	out, err := c.Shell(ctx, "am", "start", "-n", component)
	if err != nil {
		return fmt.Errorf("start activity %s: %w", component, err)
	}
	if failure := failureLine(out); failure != "" {
		return fmt.Errorf("start activity %s on %s: %s", component, c.serial, failure)
	}
	return nil
}

// KillPackage kills the background processes of pkg.
func (c *Client) KillPackage(ctx context.Context, pkg string) error {
	if _, err := c.Shell(ctx, "am", "kill", pkg); err != nil {
		return fmt.Errorf("kill %s: %w", pkg, err)
	}
	return nil
}

// WaitForBoot waits until the device reports sys.boot_completed.
func (c *Client) WaitForBoot(ctx context.Context) error {
	cmd, err := c.command("shell", "getprop", "sys.boot_completed")
	if err != nil {
		return err
	}
	_, err = c.monitor.WaitFor(ctx, cmd, func(line string) bool {
		return strings.TrimSpace(line) == "1"
	})
	if err != nil {
		return fmt.Errorf("wait for boot of %s: %w", c.serial, err)
	}
	return nil
}

// WaitForProcess waits until a process named name runs on the device.
func (c *Client) WaitForProcess(ctx context.Context, name string) error {
	cmd, err := c.command("shell", "ps")
	if err != nil {
		return err
	}
	_, err = c.monitor.WaitFor(ctx, cmd, func(line string) bool {
		fields := strings.Fields(line)
		return len(fields) > 0 && fields[len(fields)-1] == name
	})
	if err != nil {
		return fmt.Errorf("wait for process %s on %s: %w", name, c.serial, err)
	}
	return nil
}
