package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/zigbridge/internal/coordinator"
	"github.com/nerrad567/zigbridge/internal/device"
	"github.com/nerrad567/zigbridge/internal/infrastructure/mqtt"
)

// Control surface actions accepted on gateway/request.
const (
	actionOpenJoin     = "open_join"
	actionCloseJoin    = "close_join"
	actionRename       = "rename"
	actionListDevices  = "list_devices"
	actionRemoveDevice = "remove_device"
)

// controlRequest is the gateway/request payload.
type controlRequest struct {
	RequestID string   `json:"request_id"`
	Action    string   `json:"action"`
	Duration  int      `json:"duration,omitempty"`  // open_join: seconds
	Allowlist []string `json:"allowlist,omitempty"` // open_join
	Addr      string   `json:"addr,omitempty"`      // rename, remove_device
	Name      string   `json:"name,omitempty"`      // rename
}

// controlResponse is the gateway/response payload. Responses correlate to
// their request through RequestID.
type controlResponse struct {
	RequestID string             `json:"request_id"`
	Action    string             `json:"action"`
	OK        bool               `json:"ok"`
	Error     string             `json:"error,omitempty"`
	Devices   []deviceSummary    `json:"devices,omitempty"` // list_devices
	Join      *joinStatusPayload `json:"join,omitempty"`    // open_join, close_join
}

// deviceSummary is one device in a list_devices response.
type deviceSummary struct {
	Addr          string            `json:"addr"`
	Name          string            `json:"name"`
	Capabilities  []string          `json:"capabilities"`
	Attributes    device.Attributes `json:"attributes"`
	Online        bool              `json:"online"`
	OfflineReason string            `json:"offline_reason,omitempty"`
	LastSeen      string            `json:"last_seen"`
	JoinedAt      string            `json:"joined_at"`
}

// joinStatusPayload describes the join window on gateway/join and in
// control responses.
type joinStatusPayload struct {
	Open             bool     `json:"open"`
	RemainingSeconds int      `json:"remaining_seconds"`
	Allowlist        []string `json:"allowlist,omitempty"`
}

// joinedPayload announces a newly paired device on devices/{addr}/joined.
type joinedPayload struct {
	Addr         string   `json:"addr"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	JoinedAt     string   `json:"joined_at"`
}

// availabilityPayload is the devices/{addr}/availability message.
type availabilityPayload struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// deadLetterPayload is the devices/{addr}/error message for a command that
// could not be applied. ID lets operators correlate a dead letter with
// their own command log.
type deadLetterPayload struct {
	ID        string `json:"id"`
	Attribute string `json:"attribute,omitempty"`
	Value     any    `json:"value,omitempty"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// handleRequest returns the handler for the gateway/request control topic.
func (r *Relay) handleRequest(ctx context.Context) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		var req controlRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			// Without a request_id there is nothing to correlate a
			// response to; log and move on.
			r.requestsFailed.Add(1)
			r.logWarn("malformed control request", "error", err)
			return nil
		}

		resp := r.dispatch(ctx, req)
		if resp.OK {
			r.requestsHandled.Add(1)
		} else {
			r.requestsFailed.Add(1)
			r.logWarn("control request failed",
				"action", req.Action, "request_id", req.RequestID, "error", resp.Error)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			r.logError("marshalling control response", "error", err)
			return nil
		}
		r.enqueue(publishJob{topic: r.topics.GatewayResponse(), payload: out})
		return nil
	}
}

// dispatch executes one control action and builds its response.
func (r *Relay) dispatch(ctx context.Context, req controlRequest) controlResponse {
	resp := controlResponse{RequestID: req.RequestID, Action: req.Action}

	// Accept the address forms operators type (uppercase, short form),
	// same as the set topic.
	if req.Addr != "" {
		if parsed, err := coordinator.ParseAddr(req.Addr); err == nil {
			req.Addr = coordinator.FormatAddr(parsed)
		}
	}

	fail := func(err error) controlResponse {
		resp.OK = false
		resp.Error = err.Error()
		return resp
	}

	switch req.Action {
	case actionOpenJoin:
		duration := defaultJoinDuration
		if req.Duration > 0 {
			duration = time.Duration(req.Duration) * time.Second
		}
		if err := r.join.Open(duration, req.Allowlist); err != nil {
			return fail(err)
		}
		status := r.join.CurrentStatus()
		resp.Join = &joinStatusPayload{
			Open:             status.Open,
			RemainingSeconds: int(status.Remaining.Round(time.Second).Seconds()),
			Allowlist:        status.Allowlist,
		}

	case actionCloseJoin:
		r.join.Close()
		resp.Join = &joinStatusPayload{Open: false}

	case actionRename:
		if req.Addr == "" || req.Name == "" {
			return fail(fmt.Errorf("rename requires addr and name"))
		}
		if err := r.control.Rename(ctx, req.Addr, req.Name); err != nil {
			return fail(err)
		}

	case actionListDevices:
		devices := r.control.ListDevices()
		resp.Devices = make([]deviceSummary, 0, len(devices))
		for i := range devices {
			resp.Devices = append(resp.Devices, summarize(&devices[i]))
		}

	case actionRemoveDevice:
		if req.Addr == "" {
			return fail(fmt.Errorf("remove_device requires addr"))
		}
		if err := r.control.RemoveDevice(ctx, req.Addr); err != nil {
			return fail(err)
		}

	default:
		return fail(fmt.Errorf("unknown action %q", req.Action))
	}

	resp.OK = true
	return resp
}

// summarize converts a device snapshot into its response form.
func summarize(d *device.Device) deviceSummary {
	return deviceSummary{
		Addr:          d.Addr,
		Name:          d.Name,
		Capabilities:  d.Capabilities,
		Attributes:    d.Attributes,
		Online:        d.Online,
		OfflineReason: d.OfflineReason,
		LastSeen:      d.LastSeen.UTC().Format(time.RFC3339),
		JoinedAt:      d.JoinedAt.UTC().Format(time.RFC3339),
	}
}
