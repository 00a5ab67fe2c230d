package control

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/filtercam/modules/filter"
)

// Command is a control plane command.
type Command struct {
	Command string         `json:"command"`
	Config  map[string]any `json:"config,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response answers a Command.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Callbacks connect commands to the running service. All are optional.
type Callbacks struct {
	// OnSetFilter applies a filter and returns the previous one.
	// Defaults to Selector.Swap.
	OnSetFilter func(kind filter.Kind) filter.Kind
	// OnGetStatus reports service status for get_status.
	OnGetStatus func() map[string]any
	// OnSetFPS changes the capture frame rate for set_fps.
	OnSetFPS func(fps float64) error
}

// dispatcher executes commands against the selector. It has no transport
// so it is shared by every surface that speaks Command/Response.
type dispatcher struct {
	selector  *filter.Selector
	callbacks Callbacks
	now       func() time.Time
}

func (d *dispatcher) execute(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "set_filter":
		name, ok := cmd.Params["filter"].(string)
		if !ok {
			resp.Status = StatusError
			resp.Error = "missing or invalid 'filter' parameter (expected string: sepia/comic/noir)"
			break
		}
		kind, err := filter.ParseKind(name)
		if err != nil {
			resp.Status = StatusError
			resp.Error = err.Error()
			break
		}
		prev := d.setFilter(kind)
		resp.Status = StatusSuccess
		resp.Data = map[string]any{
			"filter":    kind.String(),
			"transform": kind.TransformName(),
			"previous":  prev.String(),
		}

	case "get_filter":
		kind := d.selector.Get()
		resp.Status = StatusSuccess
		resp.Data = map[string]any{
			"filter":    kind.String(),
			"transform": kind.TransformName(),
		}

	case "list_filters":
		names := make([]string, 0, len(filter.Kinds()))
		for _, k := range filter.Kinds() {
			names = append(names, k.String())
		}
		resp.Status = StatusSuccess
		resp.Data = map[string]any{"filters": names}

	case "set_fps":
		if d.callbacks.OnSetFPS == nil {
			resp.Status = StatusError
			resp.Error = "set_fps not supported by this source"
			break
		}
		fps, ok := cmd.Params["fps"].(float64)
		if !ok {
			resp.Status = StatusError
			resp.Error = "missing or invalid 'fps' parameter (expected number)"
			break
		}
		if err := d.callbacks.OnSetFPS(fps); err != nil {
			resp.Status = StatusError
			resp.Error = err.Error()
			break
		}
		resp.Status = StatusSuccess
		resp.Data = map[string]any{"fps": fps}

	case "get_status":
		if d.callbacks.OnGetStatus == nil {
			resp.Status = StatusError
			resp.Error = "get_status not implemented"
			break
		}
		resp.Status = StatusSuccess
		resp.Data = d.callbacks.OnGetStatus()

	default:
		resp.Status = StatusError
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	resp.Timestamp = d.now().UTC().Format(time.RFC3339Nano)
	return resp
}

func (d *dispatcher) setFilter(kind filter.Kind) filter.Kind {
	if d.callbacks.OnSetFilter != nil {
		return d.callbacks.OnSetFilter(kind)
	}
	prev := d.selector.Swap(kind)
	if prev != kind {
		slog.Info("control: filter changed", "from", prev.String(), "to", kind.String())
	}
	return prev
}
