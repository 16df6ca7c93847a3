package executor

import (
	"os"
	"strings"
)

// envAllowlist contains variables that are safe and useful to pass through.
var envAllowlist = map[string]bool{
	"PATH":                    true,
	"HOME":                    true,
	"USER":                    true,
	"LANG":                    true,
	"LANGUAGE":                true,
	"LC_ALL":                  true,
	"TMPDIR":                  true,
	"JAVA_HOME":               true,
	"ANDROID_HOME":            true,
	"ANDROID_SDK_ROOT":        true,
	"ANDROID_SDK_HOME":        true,
	"ANDROID_ADB_SERVER_PORT": true,
	"ADB_VENDOR_KEYS":         true,
}

// envBlocklist contains variables that must never be passed through,
// even if they appear in the allowlist.
var envBlocklist = map[string]bool{
	"LD_PRELOAD":        true,
	"LD_LIBRARY_PATH":   true,
	"JAVA_TOOL_OPTIONS": true,
	"_JAVA_OPTIONS":     true,
	"JDK_JAVA_OPTIONS":  true,
	"CLASSPATH":         true,
}

// ScrubEnvironment filters environment variables through the allowlist
// and blocklist.
func ScrubEnvironment(env []string) []string {
	scrubbed := make([]string, 0, len(env))

	for _, entry := range env {
		key := envKey(entry)

		if envBlocklist[key] {
			continue
		}
		if envAllowlist[key] {
			scrubbed = append(scrubbed, entry)
		}
	}

	return scrubbed
}

// ToolEnvironment returns the scrubbed environment of the current process.
func ToolEnvironment() []string {
	return ScrubEnvironment(os.Environ())
}

// envKey extracts the key from a "KEY=VALUE" environment entry.
func envKey(entry string) string {
	if idx := strings.IndexByte(entry, '='); idx >= 0 {
		return entry[:idx]
	}
	return entry
}
