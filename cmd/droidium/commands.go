package main

import (
	"context"
	"fmt"
	"log"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"
	"time"

	"droidium/internal/config"
	"droidium/internal/container"
	"droidium/internal/device"
	"droidium/internal/executor"
	"droidium/internal/manifest"
	"droidium/internal/signing"
)

func listDevices(ctx context.Context, settings *config.Config, logger *log.Logger) error {
	adb := device.NewClient(executor.NewLocalExecutor(logger), device.ClientConfig{
		ADB:     settings.Android.ADB,
		Timeout: settings.Android.Timeout,
		Logger:  logger,
	})
	devices, err := adb.Devices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices attached")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tSTATE\tCONSOLE")
	for _, d := range devices {
		console := "-"
		if d.Emulator() {
			console = fmt.Sprintf("%d", d.ConsolePort)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.Serial, d.State, console)
	}
	return w.Flush()
}

// scratchDir creates a temporary directory next to out so the finished
// artifact can be renamed into place.
func scratchDir(out string) (string, error) {
	dir, err := os.MkdirTemp(filepath.Dir(out), ".droidium-")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}

func resign(ctx context.Context, settings *config.Config, input, out string, logger *log.Logger) error {
	tools, err := container.NewToolExecutor(settings, logger)
	if err != nil {
		return err
	}
	dir, err := scratchDir(out)
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	signer, err := signing.NewSigner(tools, settings.Signing, dir, logger)
	if err != nil {
		return err
	}
	signed, err := signer.Resign(ctx, input)
	if err != nil {
		return err
	}
	return os.Rename(signed, out)
}

func rebuild(ctx context.Context, settings *config.Config, targetPackage, out string, logger *log.Logger) (string, error) {
	if settings.Server.APK == "" {
		return "", fmt.Errorf("server apk not configured")
	}
	tools, err := container.NewToolExecutor(settings, logger)
	if err != nil {
		return "", err
	}
	dir, err := scratchDir(out)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	rebuilder := manifest.NewRebuilder(tools, manifest.Config{
		AAPT:         settings.Android.AAPT,
		AndroidJar:   settings.Android.AndroidJar,
		Template:     settings.Server.Template,
		Placeholders: settings.Server.Placeholders,
		Timeout:      settings.Android.Timeout,
	}, dir, logger)
	res, err := rebuilder.Rebuild(ctx, settings.Server.APK, targetPackage)
	if err != nil {
		return "", err
	}

	signer, err := signing.NewSigner(tools, settings.Signing, dir, logger)
	if err != nil {
		return "", err
	}
	if err := signer.Sign(ctx, res.Rebuilt, out); err != nil {
		return "", err
	}
	return res.ServerPackage, nil
}

func listActivities(ctx context.Context, settings *config.Config, apk string) error {
	tools, err := container.NewToolExecutor(settings, nil)
	if err != nil {
		return err
	}
	inspector := manifest.NewInspector(tools, settings.Android.AAPT, settings.Android.Timeout)
	badging, err := inspector.Badging(ctx, apk)
	if err != nil {
		return err
	}
	activities, err := inspector.Activities(ctx, apk)
	if err != nil {
		return err
	}

	fmt.Printf("Package: %s\n", badging.Package)
	for _, a := range activities {
		marker := " "
		if a == badging.LaunchableActivity {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, a)
	}
	return nil
}

func showStatus(path string) error {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, container.StateFile)
	}
	snap, err := container.LoadSnapshot(path)
	if err != nil {
		return err
	}

	state := "running"
	if snap.Stopped {
		state = "stopped"
	}
	serial := "-"
	if snap.Device != nil {
		serial = snap.Device.Serial
	}
	fmt.Printf("Container: %s (%s)\n", snap.Container, state)
	fmt.Printf("Device:    %s\n", serial)
	fmt.Printf("Workdir:   %s\n", snap.WorkDir)
	fmt.Printf("Updated:   %s\n\n", snap.Updated.Format(time.RFC3339))

	if len(snap.Deployments) == 0 {
		fmt.Println("No deployments")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tPACKAGE\tSERVER\tPORT\tERROR")
	for _, name := range sortedNames(snap.Deployments) {
		st := snap.Deployments[name]
		port := ""
		if st.Port != 0 {
			port = fmt.Sprintf("%d", st.Port)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Name, st.State, st.Package, st.ServerPackage, port, st.Error)
	}
	return w.Flush()
}

func showHistory(path string) error {
	entries, err := container.ReadJournal(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No journal entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDEPLOYMENT\tSTATE\tDURATION\tDETAIL")
	for _, e := range entries {
		timestamp := e.Timestamp
		if t, err := time.Parse(time.RFC3339Nano, timestamp); err == nil {
			timestamp = t.Format("15:04:05")
		}
		duration := ""
		if e.Duration > 0 {
			duration = fmt.Sprintf("%.0fms", e.Duration)
		}
		detail := e.Artifact
		if e.Error != "" {
			detail = e.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", timestamp, e.Deployment, e.State, duration, detail)
	}
	return w.Flush()
}

func sortedNames(m map[string]*container.Status) []string {
	return slices.Sorted(maps.Keys(m))
}
