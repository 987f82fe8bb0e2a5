package management

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// SimctlDeviceLister is the default DeviceLister, shelling out to
// `xcrun simctl` the same way agentlifecycle's default build/spawn/
// terminate commands do. Simulator control is an external collaborator
// per spec.md's Non-goals; this is the boundary implementation, not
// part of the specified core.
type SimctlDeviceLister struct{}

type simctlDeviceList struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	UDID  string `json:"udid"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// ListDevices returns "{udid} ({name}, {state})" for every available
// simulator, across every runtime `simctl` reports.
func (SimctlDeviceLister) ListDevices(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "xcrun", "simctl", "list", "devices", "available", "--json")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("simctl list devices: %w", err)
	}

	var parsed simctlDeviceList
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("simctl list devices: parse output: %w", err)
	}

	var devices []string
	for _, runtime := range parsed.Devices {
		for _, d := range runtime {
			devices = append(devices, fmt.Sprintf("%s (%s, %s)", d.UDID, d.Name, d.State))
		}
	}
	return devices, nil
}

// BootDevice boots the simulator identified by deviceID (its UDID).
// simctl reports a non-zero exit for an already-booted device; that is
// treated as success.
func (SimctlDeviceLister) BootDevice(ctx context.Context, deviceID string) error {
	cmd := exec.CommandContext(ctx, "xcrun", "simctl", "boot", deviceID)
	if out, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(strings.ToLower(string(out)), "already booted") {
			return nil
		}
		return fmt.Errorf("simctl boot %s: %w: %s", deviceID, err, out)
	}
	return nil
}
