package manifest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"droidium/internal/executor"
)

// Badging is the subset of `aapt dump badging` output the pipeline needs.
type Badging struct {
	Package            string
	VersionCode        string
	VersionName        string
	LaunchableActivity string
}

// Inspector reads package metadata with aapt.
type Inspector struct {
	exec    executor.Executor
	aapt    string
	timeout time.Duration
}

// NewInspector creates an inspector using the given aapt command line.
func NewInspector(exec executor.Executor, aapt string, timeout time.Duration) *Inspector {
	if aapt == "" {
		aapt = "aapt"
	}
	return &Inspector{exec: exec, aapt: aapt, timeout: timeout}
}

// Badging returns the package name and launchable activity of apk.
func (in *Inspector) Badging(ctx context.Context, apk string) (*Badging, error) {
	out, err := in.run(ctx, "dump", "badging", apk)
	if err != nil {
		return nil, fmt.Errorf("read badging of %s: %w", apk, err)
	}
	b := ParseBadging(out)
	if b.Package == "" {
		return nil, fmt.Errorf("read badging of %s: no package name in aapt output", apk)
	}
	return b, nil
}

// Activities lists the fully qualified activities declared by apk,
// including activity aliases.
func (in *Inspector) Activities(ctx context.Context, apk string) ([]string, error) {
	out, err := in.run(ctx, "dump", "xmltree", apk, ManifestEntry)
	if err != nil {
		return nil, fmt.Errorf("read activities of %s: %w", apk, err)
	}
	return ParseActivities(out), nil
}

func (in *Inspector) run(ctx context.Context, args ...string) (string, error) {
	cmd, err := executor.Tool(in.aapt, args...)
	if err != nil {
		return "", err
	}
	cmd.Timeout = in.timeout
	res, err := in.exec.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// ParseBadging extracts package and launchable activity from badging output:
//
//	package: name='com.example' versionCode='1' versionName='1.0'
//	launchable-activity: name='com.example.Main'  label='' icon=''
func ParseBadging(out string) *Badging {
	b := &Badging{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "package:"):
			b.Package = quotedValue(line, "name")
			b.VersionCode = quotedValue(line, "versionCode")
			b.VersionName = quotedValue(line, "versionName")
		case strings.HasPrefix(line, "launchable-activity:"):
			if b.LaunchableActivity == "" {
				b.LaunchableActivity = quotedValue(line, "name")
			}
		}
	}
	return b
}

func quotedValue(line, key string) string {
	marker := " " + key + "='"
	i := strings.Index(line, marker)
	if i < 0 {
		return ""
	}
	rest := line[i+len(marker):]
	j := strings.IndexByte(rest, '\'')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

type xmlElement struct {
	name   string
	indent int
}

// ParseActivities walks `aapt dump xmltree` output and returns the
// android:name of every activity and activity-alias element, qualified with
// the manifest package.
func ParseActivities(out string) []string {
	var (
		stack []xmlElement
		pkg   string
		names []string
	)
	for _, raw := range strings.Split(out, "\n") {
		raw = strings.TrimRight(raw, "\r")
		trimmed := strings.TrimLeft(raw, " ")
		indent := len(raw) - len(trimmed)

		switch {
		case strings.HasPrefix(trimmed, "E: "):
			for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
				stack = stack[:len(stack)-1]
			}
			name, _, _ := strings.Cut(strings.TrimPrefix(trimmed, "E: "), " ")
			stack = append(stack, xmlElement{name: name, indent: indent})

		case strings.HasPrefix(trimmed, "A: "):
			if len(stack) == 0 {
				continue
			}
			owner := stack[len(stack)-1].name
			attr, value, ok := attribute(strings.TrimPrefix(trimmed, "A: "))
			if !ok {
				continue
			}
			switch {
			case owner == "manifest" && attr == "package":
				pkg = value
			case (owner == "activity" || owner == "activity-alias") && attr == "android:name":
				names = append(names, value)
			}
		}
	}

	for i, n := range names {
		names[i] = Qualify(pkg, n)
	}
	return names
}

// attribute parses `android:name(0x01010003)="com.example.Main" (Raw: ...)`.
func attribute(s string) (name, value string, ok bool) {
	key, rest, found := strings.Cut(s, "=")
	if !found {
		return "", "", false
	}
	if i := strings.IndexByte(key, '('); i >= 0 {
		key = key[:i]
	}
	if !strings.HasPrefix(rest, `"`) {
		return "", "", false
	}
	rest = rest[1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", "", false
	}
	return key, rest[:end], true
}

// Qualify expands a relative activity name against its package.
func Qualify(pkg, activity string) string {
	switch {
	case pkg == "":
		return activity
	case strings.HasPrefix(activity, "."):
		return pkg + activity
	case !strings.Contains(activity, "."):
		return pkg + "." + activity
	}
	return activity
}
