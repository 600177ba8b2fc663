package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/castpoint/castpoint/internal/core"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct{}

// Print renders human output.
func (HumanPrinter) Print(v any) error {
	switch data := v.(type) {
	case core.NodesResult:
		return printNodes(data)
	case core.DevicesResult:
		return printDevices(data)
	case core.SearchResult:
		return printSearch(data)
	case core.CastResult:
		return printCast(data)
	case core.StatusResult:
		return printStatus(data)
	case core.RawResult:
		return printRaw(data)
	default:
		_, err := fmt.Fprintln(os.Stdout, "ok")
		return err
	}
}

func printNodes(result core.NodesResult) error {
	if len(result.Nodes) == 0 {
		_, err := fmt.Fprintln(os.Stdout, "no nodes online")
		return err
	}
	rows := pterm.TableData{{"NAME", "KIND", "NODE_ID"}}
	for _, node := range result.Nodes {
		rows = append(rows, []string{node.Name, node.Kind, node.NodeID})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printDevices(result core.DevicesResult) error {
	if len(result.Devices) == 0 {
		_, err := fmt.Fprintln(os.Stdout, "no devices discovered")
		return err
	}
	rows := pterm.TableData{{"NAME", "MODEL", "ADDRESS", "RENDERER", "DEVICE_ID"}}
	for _, device := range result.Devices {
		renderer := ""
		if device.Renderer {
			renderer = "yes"
		}
		rows = append(rows, []string{device.Name, device.Model, device.Address, renderer, device.ID})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printSearch(result core.SearchResult) error {
	if result.State.Searching {
		pterm.Success.Printfln("search started on %s", result.NodeID)
		return nil
	}
	pterm.Info.Printfln("search stopped on %s", result.NodeID)
	return nil
}

func printCast(result core.CastResult) error {
	what := result.URI
	if result.Title != "" {
		what = fmt.Sprintf("%s (%s)", result.Title, result.URI)
	}
	pterm.Success.Printfln("loaded %s on %s", what, result.Device)
	if result.Feed != nil && !result.Feed.Published.IsZero() {
		pterm.Info.Printfln("published %s", result.Feed.Published.Format(time.RFC1123))
	}
	return nil
}

func printStatus(result core.StatusResult) error {
	state := result.State

	name := result.DeviceID
	if state.Device != nil && state.Device.Name != "" {
		name = state.Device.Name
	}

	volume := fmt.Sprintf("vol %d%%", state.Volume)
	if state.Mute {
		volume = "muted"
	}

	position := formatPosition(state.Position.PositionMS, state.Position.DurationMS)
	line := strings.TrimSpace(fmt.Sprintf("%s  [%s]  %s  %s", name, strings.ToLower(state.TransportState), position, volume))
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		return err
	}
	if state.Position.URI != "" {
		_, err := fmt.Fprintf(os.Stdout, "uri %s\n", state.Position.URI)
		return err
	}
	return nil
}

func printRaw(result core.RawResult) error {
	raw, err := rawBytes(result.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(raw))
	return err
}

func rawBytes(data any) ([]byte, error) {
	switch val := data.(type) {
	case json.RawMessage:
		return val, nil
	case []byte:
		return val, nil
	default:
		out, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

func formatPosition(pos, dur int64) string {
	if pos == 0 && dur == 0 {
		return ""
	}
	if dur > 0 {
		percent := (pos * 100) / dur
		return fmt.Sprintf("%s / %s (%d%%)", formatMS(pos), formatMS(dur), percent)
	}
	return formatMS(pos)
}

func formatMS(ms int64) string {
	if ms <= 0 {
		return "0:00"
	}
	secs := ms / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
