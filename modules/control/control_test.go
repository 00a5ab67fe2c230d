package control

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/filtercam/modules/filter"
)

// doneToken is a completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic   string
	payload []byte
}

// fakeClient records publishes and hands out the subscribed callback.
// Methods not overridden panic through the nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	handler   mqtt.MessageHandler
	published []published
	notify    chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{notify: make(chan struct{}, 64)}
}

func (c *fakeClient) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handler = cb
	c.mu.Unlock()
	return doneToken{}
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, published{topic: topic, payload: payload.([]byte)})
	c.mu.Unlock()
	c.notify <- struct{}{}
	return doneToken{}
}

func (c *fakeClient) IsConnected() bool { return false }

func (c *fakeClient) deliver(payload string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(c, &fakeMessage{topic: "filtercam/control", payload: []byte(payload)})
}

func (c *fakeClient) waitResponse(t *testing.T) Response {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no response published")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	last := c.published[len(c.published)-1]
	var resp Response
	if err := json.Unmarshal(last.payload, &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	return resp
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

func testDispatcher(sel *filter.Selector, cb Callbacks) *dispatcher {
	return &dispatcher{
		selector:  sel,
		callbacks: cb,
		now:       func() time.Time { return time.Date(2025, 11, 5, 12, 0, 0, 0, time.UTC) },
	}
}

func TestDispatcher_Commands(t *testing.T) {
	tests := []struct {
		name       string
		cmd        Command
		wantStatus string
		wantFilter filter.Kind
	}{
		{
			name:       "set noir",
			cmd:        Command{Command: "set_filter", Params: map[string]any{"filter": "noir"}},
			wantStatus: StatusSuccess,
			wantFilter: filter.Noir,
		},
		{
			name:       "set by transform name",
			cmd:        Command{Command: "set_filter", Params: map[string]any{"filter": "CIComicEffect"}},
			wantStatus: StatusSuccess,
			wantFilter: filter.ComicEffect,
		},
		{
			name:       "unknown filter leaves selector",
			cmd:        Command{Command: "set_filter", Params: map[string]any{"filter": "vivid"}},
			wantStatus: StatusError,
			wantFilter: filter.Sepia,
		},
		{
			name:       "missing param",
			cmd:        Command{Command: "set_filter"},
			wantStatus: StatusError,
			wantFilter: filter.Sepia,
		},
		{
			name:       "wrong param type",
			cmd:        Command{Command: "set_filter", Params: map[string]any{"filter": 2.0}},
			wantStatus: StatusError,
			wantFilter: filter.Sepia,
		},
		{
			name:       "get filter",
			cmd:        Command{Command: "get_filter"},
			wantStatus: StatusSuccess,
			wantFilter: filter.Sepia,
		},
		{
			name:       "get status without callback",
			cmd:        Command{Command: "get_status"},
			wantStatus: StatusError,
			wantFilter: filter.Sepia,
		},
		{
			name:       "set fps without a controllable source",
			cmd:        Command{Command: "set_fps", Params: map[string]any{"fps": 15.0}},
			wantStatus: StatusError,
			wantFilter: filter.Sepia,
		},
		{
			name:       "unknown command",
			cmd:        Command{Command: "reboot"},
			wantStatus: StatusError,
			wantFilter: filter.Sepia,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := filter.NewSelector(filter.Sepia)
			resp := testDispatcher(sel, Callbacks{}).execute(tt.cmd)

			if resp.Status != tt.wantStatus {
				t.Errorf("status %q, want %q (error %q)", resp.Status, tt.wantStatus, resp.Error)
			}
			if resp.CommandAck != tt.cmd.Command {
				t.Errorf("command_ack %q, want %q", resp.CommandAck, tt.cmd.Command)
			}
			if resp.Timestamp != "2025-11-05T12:00:00Z" {
				t.Errorf("timestamp %q", resp.Timestamp)
			}
			if got := sel.Get(); got != tt.wantFilter {
				t.Errorf("selector %v, want %v", got, tt.wantFilter)
			}
		})
	}
}

func TestDispatcher_Callbacks(t *testing.T) {
	sel := filter.NewSelector(filter.Sepia)
	var applied []filter.Kind
	d := testDispatcher(sel, Callbacks{
		OnSetFilter: func(kind filter.Kind) filter.Kind {
			applied = append(applied, kind)
			return sel.Swap(kind)
		},
		OnGetStatus: func() map[string]any { return map[string]any{"frames": 12} },
	})

	resp := d.execute(Command{Command: "set_filter", Params: map[string]any{"filter": "comic"}})
	if resp.Status != StatusSuccess || resp.Data["previous"] != "sepia" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(applied) != 1 || applied[0] != filter.ComicEffect {
		t.Errorf("OnSetFilter calls %v", applied)
	}

	resp = d.execute(Command{Command: "get_status"})
	if resp.Status != StatusSuccess || resp.Data["frames"] != 12 {
		t.Errorf("unexpected status response %+v", resp)
	}

	resp = d.execute(Command{Command: "list_filters"})
	names, _ := resp.Data["filters"].([]string)
	if len(names) != 3 {
		t.Errorf("filters %v", resp.Data["filters"])
	}
}

func TestDispatcher_SetFPS(t *testing.T) {
	var rates []float64
	d := testDispatcher(filter.NewSelector(filter.Sepia), Callbacks{
		OnSetFPS: func(fps float64) error {
			if fps > 60 {
				return fmt.Errorf("invalid FPS %.2f", fps)
			}
			rates = append(rates, fps)
			return nil
		},
	})

	tests := []struct {
		name       string
		params     map[string]any
		wantStatus string
	}{
		{"valid rate", map[string]any{"fps": 12.5}, StatusSuccess},
		{"rejected by source", map[string]any{"fps": 90.0}, StatusError},
		{"missing param", nil, StatusError},
		{"wrong param type", map[string]any{"fps": "fast"}, StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.execute(Command{Command: "set_fps", Params: tt.params})
			if resp.Status != tt.wantStatus {
				t.Errorf("status %q, want %q (error %q)", resp.Status, tt.wantStatus, resp.Error)
			}
		})
	}

	if len(rates) != 1 || rates[0] != 12.5 {
		t.Errorf("OnSetFPS applied %v, want [12.5]", rates)
	}
}

func TestMQTTHandler_RoundTrip(t *testing.T) {
	client := newFakeClient()
	sel := filter.NewSelector(filter.Sepia)
	h := NewMQTTHandler(MQTTConfig{
		ControlTopic:  "filtercam/control",
		ResponseTopic: "filtercam/responses",
	}, client, sel, Callbacks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}

	client.deliver(`{"command":"set_filter","params":{"filter":"noir"}}`)
	resp := client.waitResponse(t)
	if resp.Status != StatusSuccess || resp.CommandAck != "set_filter" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if sel.Get() != filter.Noir {
		t.Errorf("selector %v, want noir", sel.Get())
	}

	client.deliver(`{"command":"set_filter","params":{"filter":"blur"}}`)
	resp = client.waitResponse(t)
	if resp.Status != StatusError || resp.Error == "" {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if sel.Get() != filter.Noir {
		t.Errorf("selector changed to %v on unknown filter", sel.Get())
	}

	client.deliver(`not json`)
	resp = client.waitResponse(t)
	if resp.CommandAck != "unknown" || resp.Error != "invalid JSON" {
		t.Errorf("unexpected response %+v", resp)
	}

	client.mu.Lock()
	for _, p := range client.published {
		if p.topic != "filtercam/responses" {
			t.Errorf("published to %q", p.topic)
		}
	}
	client.mu.Unlock()

	if err := h.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := h.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestMQTTHandler_QueueFullDrops(t *testing.T) {
	client := newFakeClient()
	h := NewMQTTHandler(MQTTConfig{ControlTopic: "c", ResponseTopic: "r"}, client, filter.NewSelector(filter.Sepia), Callbacks{})

	// Not started: nothing drains the queue.
	for i := 0; i < commandQueueSize+3; i++ {
		h.messageHandler(client, &fakeMessage{payload: []byte(`{"command":"get_filter"}`)})
	}
	if got := h.Dropped(); got != 3 {
		t.Errorf("dropped %d, want 3", got)
	}
}

func TestMQTTConfig_BrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":      "tcp://localhost:1883",
		"ssl://broker:8883":   "ssl://broker:8883",
		"tcp://10.0.0.2:1883": "tcp://10.0.0.2:1883",
	}
	for in, want := range tests {
		if got := (MQTTConfig{Broker: in}).BrokerURL(); got != want {
			t.Errorf("BrokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatchConfig_AppliesChangedDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filtercam.yaml")
	writeFilter := func(name string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeFilter("sepia")

	load := func(p string) (filter.Kind, error) {
		data, err := os.ReadFile(p)
		if err != nil {
			return 0, err
		}
		return filter.ParseKind(string(data))
	}

	sel := filter.NewSelector(filter.Sepia)
	applied := make(chan filter.Kind, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, WatchOptions{
			Path:     path,
			Debounce: 20 * time.Millisecond,
			Load:     load,
			Apply: func(k filter.Kind) {
				sel.Set(k)
				applied <- k
			},
		}, sel)
	}()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	// A runtime change must survive a save that leaves filter.default alone.
	sel.Set(filter.ComicEffect)
	writeFilter("sepia")
	select {
	case k := <-applied:
		t.Fatalf("unexpected apply of %v", k)
	case <-time.After(200 * time.Millisecond):
	}
	if sel.Get() != filter.ComicEffect {
		t.Fatalf("selector %v, want comic", sel.Get())
	}

	writeFilter("noir")
	select {
	case k := <-applied:
		if k != filter.Noir {
			t.Errorf("applied %v, want noir", k)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("filter change not applied")
	}

	// Invalid content keeps the current filter.
	writeFilter("blur")
	select {
	case k := <-applied:
		t.Fatalf("unexpected apply of %v", k)
	case <-time.After(200 * time.Millisecond):
	}
	if sel.Get() != filter.Noir {
		t.Errorf("selector %v, want noir", sel.Get())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WatchConfig returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WatchConfig did not return")
	}
}

func TestWatchConfig_RequiresLoader(t *testing.T) {
	err := WatchConfig(context.Background(), WatchOptions{Path: "x.yaml"}, filter.NewSelector(filter.Sepia))
	if err == nil {
		t.Fatal("expected error without a loader")
	}
}
