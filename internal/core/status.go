package core

import (
	"slices"
	"time"
)

// Status is a point-in-time view of the service.
type Status struct {
	InstanceID    string   `json:"instance_id"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Filter        string   `json:"filter"`
	Transform     string   `json:"transform"`
	Source        string   `json:"source"`
	Device        string   `json:"device,omitempty"`
	MQTTConnected bool     `json:"mqtt_connected"`
	Capture       any      `json:"capture,omitempty"`
	Pipeline      Pipeline `json:"pipeline"`
	Display       Display  `json:"display"`
}

// Pipeline summarises frame processing.
type Pipeline struct {
	Processed     uint64            `json:"processed"`
	Dropped       uint64            `json:"dropped"`
	PerFilter     map[string]uint64 `json:"per_filter"`
	MeanLatencyMS float64           `json:"mean_latency_ms"`
	LastError     string            `json:"last_error,omitempty"`
}

// Display summarises frame hand-off to the display.
type Display struct {
	Published   uint64            `json:"published"`
	InboxDrops  uint64            `json:"inbox_drops"`
	Subscribers []string          `json:"subscribers"`
	Sinks       map[string]uint64 `json:"sinks_written,omitempty"`
}

// Status collects current counters from every component.
func (fc *FilterCam) Status() Status {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	kind := fc.selector.Get()
	st := Status{
		InstanceID: fc.cfg.InstanceID,
		Filter:     kind.String(),
		Transform:  kind.TransformName(),
		Source:     fc.cfg.Camera.Source,
		Device:     fc.device.Path,
	}
	if fc.isRunning {
		st.UptimeSeconds = int64(time.Since(fc.started).Seconds())
	}
	if fc.stream != nil {
		st.Capture = fc.stream.Stats()
	}
	if fc.mqttClient != nil {
		st.MQTTConnected = fc.mqttClient.IsConnected()
	}

	ps := fc.pipeline.Stats()
	st.Pipeline = Pipeline{
		Processed:     ps.Processed,
		Dropped:       ps.Dropped,
		PerFilter:     ps.PerFilter,
		MeanLatencyMS: float64(ps.MeanLatency.Microseconds()) / 1000,
		LastError:     ps.LastError,
	}

	ss := fc.supplier.Stats()
	st.Display = Display{
		Published:   ss.Published,
		InboxDrops:  ss.InboxDrops,
		Subscribers: make([]string, 0, len(ss.Subscribers)),
		Sinks:       make(map[string]uint64, len(fc.sinkStats)),
	}
	for id := range ss.Subscribers {
		st.Display.Subscribers = append(st.Display.Subscribers, id)
	}
	slices.Sort(st.Display.Subscribers)
	for name, s := range fc.sinkStats {
		st.Display.Sinks[name] = s.Written.Load()
	}
	return st
}

// statusMap renders Status for the HTTP and MQTT status endpoints.
func (fc *FilterCam) statusMap() map[string]any {
	st := fc.Status()
	return map[string]any{
		"instance_id":    st.InstanceID,
		"uptime_seconds": st.UptimeSeconds,
		"filter":         st.Filter,
		"transform":      st.Transform,
		"source":         st.Source,
		"device":         st.Device,
		"mqtt_connected": st.MQTTConnected,
		"capture":        st.Capture,
		"pipeline":       st.Pipeline,
		"display":        st.Display,
	}
}
