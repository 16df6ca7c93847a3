// Package device tracks the Android devices used by a container and drives
// them through adb.
package device

import (
	"strconv"
	"strings"
)

// State is the connection state reported by adb.
type State string

const (
	StateOnline       State = "online"
	StateOffline      State = "offline"
	StateUnauthorized State = "unauthorized"
	StateUnknown      State = "unknown"
)

// ParseState maps an `adb devices` state column to a State.
func ParseState(s string) State {
	switch s {
	case "device":
		return StateOnline
	case "offline":
		return StateOffline
	case "unauthorized":
		return StateUnauthorized
	}
	return StateUnknown
}

// Device is a handle to a physical or virtual device.
type Device struct {
	Serial string `json:"serial"`
	// ConsolePort is the emulator console port, zero for physical devices.
	ConsolePort int   `json:"console_port,omitempty"`
	State       State `json:"state"`
}

// Online reports whether adb can talk to the device.
func (d Device) Online() bool {
	return d.State == StateOnline
}

// Emulator reports whether the device is a local emulator.
func (d Device) Emulator() bool {
	return d.ConsolePort != 0
}

func (d Device) String() string {
	return d.Serial
}

// consolePort extracts 5554 from "emulator-5554".
func consolePort(serial string) int {
	rest, ok := strings.CutPrefix(serial, "emulator-")
	if !ok {
		return 0
	}
	port, err := strconv.Atoi(rest)
	if err != nil {
		return 0
	}
	return port
}

// ParseDevices parses `adb devices [-l]` output.
func ParseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, Device{
			Serial:      fields[0],
			ConsolePort: consolePort(fields[0]),
			State:       ParseState(fields[1]),
		})
	}
	return devices
}
