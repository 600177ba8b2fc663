package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/castpoint/castpoint/internal/ports"
	"github.com/castpoint/castpoint/pkg/cast"
)

// Resolver resolves node and device selectors to concrete IDs.
type Resolver struct {
	Broker ports.Broker
	Config Config
}

// ResolveNode resolves a control-point node selector using config defaults.
func (r Resolver) ResolveNode(ctx context.Context, selector string) (cast.Presence, error) {
	if selector == "" {
		selector = r.Config.Defaults.Node
	}

	presence, err := r.Broker.ListPresence(ctx)
	if err != nil {
		return cast.Presence{}, WrapError(ExitRuntime, "list presence", err)
	}

	if selector == "" {
		if len(presence) == 1 {
			return presence[0], nil
		}
		if len(presence) == 0 {
			return cast.Presence{}, &CLIError{Code: ExitNotFound, Msg: "no castpoint nodes online"}
		}
		return cast.Presence{}, &CLIError{Code: ExitUsage, Msg: "node selector required: " + presenceList(presence)}
	}

	selector = strings.TrimSpace(selector)
	matches := make([]cast.Presence, 0)
	for _, p := range presence {
		if p.NodeID == selector {
			return p, nil
		}
		if strings.EqualFold(p.Name, selector) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) == 0 {
		return cast.Presence{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no node matching %q", selector)}
	}
	return cast.Presence{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous node %q: %s", selector, presenceList(matches))}
}

// ResolveDevice resolves a device selector against a node's device list.
func (r Resolver) ResolveDevice(ctx context.Context, nodeID string, selector string) (cast.DeviceSnapshot, error) {
	if selector == "" {
		selector = r.Config.Defaults.Device
	}

	list, err := r.Broker.GetDeviceList(ctx, nodeID)
	if err != nil {
		return cast.DeviceSnapshot{}, WrapError(ExitRuntime, "get device list", err)
	}

	if selector == "" {
		if len(list.Devices) == 1 {
			return list.Devices[0], nil
		}
		if len(list.Devices) == 0 {
			return cast.DeviceSnapshot{}, &CLIError{Code: ExitNotFound, Msg: "no devices discovered"}
		}
		return cast.DeviceSnapshot{}, &CLIError{Code: ExitUsage, Msg: "device selector required: " + deviceList(list.Devices)}
	}

	selector = strings.TrimSpace(selector)
	if alias, ok := r.Config.Aliases[selector]; ok {
		selector = alias
	}

	// UDNs resolve exactly; everything else matches by friendly name.
	if strings.HasPrefix(selector, "uuid:") {
		for _, d := range list.Devices {
			if d.ID == selector {
				return d, nil
			}
		}
		return cast.DeviceSnapshot{}, &CLIError{Code: ExitNotFound, Msg: "device not found: " + selector}
	}

	matches := make([]cast.DeviceSnapshot, 0)
	for _, d := range list.Devices {
		if d.ID == selector {
			return d, nil
		}
		if strings.EqualFold(d.Name, selector) {
			matches = append(matches, d)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) == 0 {
		return cast.DeviceSnapshot{}, &CLIError{Code: ExitNotFound, Msg: fmt.Sprintf("no device matching %q", selector)}
	}
	return cast.DeviceSnapshot{}, &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("ambiguous device %q: %s", selector, deviceList(matches))}
}

func presenceList(nodes []cast.Presence) string {
	names := make([]string, 0, len(nodes))
	for _, p := range nodes {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.NodeID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func deviceList(devices []cast.DeviceSnapshot) string {
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, fmt.Sprintf("%s (%s)", d.Name, d.ID))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
