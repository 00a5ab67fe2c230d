package display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/filtercam/modules/filter"
	"github.com/e7canasta/filtercam/modules/framesupplier"
	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

func testFrame(seq uint64, kind filter.Kind, w, h int) *framesupplier.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	return &framesupplier.Frame{
		Image:     img,
		Filter:    kind,
		Width:     w,
		Height:    h,
		Timestamp: time.Date(2025, 11, 5, 23, 45, 17, 123e6, time.UTC),
		TraceID:   "trace-1",
		Seq:       seq,
	}
}

func newTestServer(t *testing.T) (*Server, framesupplier.Supplier, *filter.Selector) {
	t.Helper()
	sup := framesupplier.New()
	if err := sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sup.Stop() })

	sel := filter.NewSelector(filter.Sepia)
	srv := NewServer(ServerConfig{JPEGQuality: 70}, sel, sup, func() map[string]any {
		return map[string]any{"instance_id": "test"}
	})
	return srv, sup, sel
}

func TestServer_FilterAPI(t *testing.T) {
	srv, _, sel := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantKind   filter.Kind
	}{
		{"set noir", http.MethodPut, "/api/filter/noir", http.StatusOK, filter.Noir},
		{"set by transform name", http.MethodPost, "/api/filter/CIComicEffect", http.StatusOK, filter.ComicEffect},
		{"unknown leaves selector", http.MethodPut, "/api/filter/blur", http.StatusBadRequest, filter.ComicEffect},
		{"set sepia", http.MethodPut, "/api/filter/SEPIA", http.StatusOK, filter.Sepia},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := sel.Get(); got != tt.wantKind {
				t.Errorf("selector %v, want %v", got, tt.wantKind)
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/filter", nil))
	var body struct {
		Filter    string   `json:"filter"`
		Transform string   `json:"transform"`
		Filters   []string `json:"filters"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Filter != "sepia" || body.Transform != filter.SepiaTransform || len(body.Filters) != 3 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestServer_StaticAndHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("index: %d", rec.Code)
	}
	for _, want := range []string{`data-filter="sepia"`, `data-filter="comic"`, `data-filter="noir"`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("index missing %s", want)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["instance_id"] != "test" || status["filter"] != "sepia" {
		t.Errorf("unexpected status %v", status)
	}
}

func TestServer_Snapshot(t *testing.T) {
	srv, sup, _ := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("snapshot before frames: %d", rec.Code)
	}

	read := sup.Subscribe("sync")
	sup.Publish(testFrame(0, filter.Noir, 32, 48))
	read()

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: %d", rec.Code)
	}
	if rec.Header().Get("X-Filter") != "noir" {
		t.Errorf("X-Filter = %q", rec.Header().Get("X-Filter"))
	}
	img, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 48 {
		t.Errorf("snapshot %v", b)
	}
}

func TestServer_WebSocket(t *testing.T) {
	srv, sup, sel := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.broadcastFrames(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg["type"] != "filter" || msg["filter"] != "sepia" {
		t.Fatalf("greeting %v", msg)
	}

	// unknown filter: error reply, selector untouched
	if err := conn.WriteJSON(map[string]string{"type": "set_filter", "filter": "vivid"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg["type"] != "error" || sel.Get() != filter.Sepia {
		t.Fatalf("expected error reply, got %v (selector %v)", msg, sel.Get())
	}

	if err := conn.WriteJSON(map[string]string{"type": "set_filter", "filter": "noir"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg["type"] != "filter" || msg["filter"] != "noir" {
		t.Fatalf("expected noir announcement, got %v", msg)
	}
	if sel.Get() != filter.Noir {
		t.Fatalf("selector %v, want noir", sel.Get())
	}

	sup.Publish(testFrame(0, filter.Noir, 40, 30))

	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.BinaryMessage {
		t.Fatalf("message type %d, want binary", typ)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("frame not JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("frame %v", b)
	}
}

func noisyFrame(rng *rand.Rand, seq uint64, w, h int) *framesupplier.Frame {
	f := testFrame(seq, filter.Sepia, 1, 1)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	f.Image, f.Width, f.Height = img, w, h
	return f
}

func TestServer_StalledViewerDoesNotBlockControl(t *testing.T) {
	srv, sup, sel := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.broadcastFrames(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.closeClients()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	// connects and never reads
	stalled, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stalled.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.clientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 40; i++ {
		sup.Publish(noisyFrame(rng, uint64(i), 1280, 720))
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/filter/noir", nil))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("PUT /api/filter/noir took %v with one stalled viewer", elapsed)
	}
	if rec.Code != http.StatusOK || sel.Get() != filter.Noir {
		t.Fatalf("status %d, selector %v", rec.Code, sel.Get())
	}

	// a new viewer still gets through
	fresh, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer fresh.Close()
	fresh.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := fresh.ReadJSON(&msg); err != nil {
		t.Fatalf("greeting: %v", err)
	}
	if msg["type"] != "filter" || msg["filter"] != "noir" {
		t.Fatalf("greeting %v", msg)
	}
}

func TestServer_SetFilterAnnouncesActiveKind(t *testing.T) {
	srv, _, sel := newTestServer(t)
	kinds := filter.Kinds()

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(kind filter.Kind) {
			defer wg.Done()
			srv.SetFilter(kind, "test")
		}(kinds[i%len(kinds)])
	}
	wg.Wait()

	if got := filter.Kind(srv.announced.Load()); got != sel.Get() {
		t.Errorf("last announcement %v, active filter %v", got, sel.Get())
	}
}

func TestViewer_OutboxKeepsLatest(t *testing.T) {
	v := newViewer(nil)
	v.offerFrame([]byte("a"))
	v.offerFrame([]byte("b"))
	v.offerFrame([]byte("c"))
	v.offerFilter([]byte("sepia"))
	v.offerFilter([]byte("noir"))

	if got := string(<-v.frames); got != "c" {
		t.Errorf("frame outbox holds %q, want c", got)
	}
	if got := string(<-v.filters); got != "noir" {
		t.Errorf("filter outbox holds %q, want noir", got)
	}
	if got := v.dropped.Load(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}

func TestScale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))

	if got := Scale(img, 50); got.Rect.Dx() != 50 || got.Rect.Dy() != 25 {
		t.Errorf("scaled to %v, want 50x25", got.Rect)
	}
	if got := Scale(img, 400); got != img {
		t.Error("image within bounds should be returned as is")
	}
	if got := Scale(img, 0); got != img {
		t.Error("maxWidth 0 should disable scaling")
	}
}

func TestEncode_UnsupportedFormat(t *testing.T) {
	if _, err := Encode(image.NewRGBA(image.Rect(0, 0, 1, 1)), "gif", 80); err == nil {
		t.Error("expected error for gif")
	}
}

func TestPipeSink_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sink := NewPipeSink(&buf, nil, 80, 16)

	if err := sink.Write(testFrame(1, filter.Sepia, 32, 24)); err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(testFrame(2, filter.ComicEffect, 8, 8)); err != nil {
		t.Fatal(err)
	}

	rec, err := ReadRecord(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Seq != 1 || rec.Filter != "sepia" || rec.Format != FormatJPEG || rec.TraceID != "trace-1" {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.Width != 16 || rec.Height != 12 {
		t.Errorf("record size %dx%d, want downscaled 16x12", rec.Width, rec.Height)
	}
	if _, err := jpeg.Decode(bytes.NewReader(rec.Data)); err != nil {
		t.Errorf("record data not JPEG: %v", err)
	}

	rec, err = ReadRecord(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Seq != 2 || rec.Filter != "comic" || rec.Width != 8 {
		t.Errorf("unexpected second record %+v", rec)
	}

	if _, err := ReadRecord(&buf); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReadRecord_Oversized(t *testing.T) {
	r := bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := ReadRecord(r); err == nil {
		t.Error("expected size limit error")
	}
}

func TestOpenPipeContext_FIFOWithoutViewer(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "frames.fifo")
	if err := unix.Mkfifo(fifo, 0o600); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	sink, err := OpenPipeContext(ctx, fifo, 80, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got sink=%v err=%v", sink, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("open returned after %v", elapsed)
	}
}

func TestOpenPipeContext_FIFOWithViewer(t *testing.T) {
	fifo := filepath.Join(t.TempDir(), "frames.fifo")
	if err := unix.Mkfifo(fifo, 0o600); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}

	type readResult struct {
		rec *Record
		err error
	}
	got := make(chan readResult, 1)
	go func() {
		f, err := os.Open(fifo)
		if err != nil {
			got <- readResult{nil, err}
			return
		}
		defer f.Close()
		rec, err := ReadRecord(f)
		got <- readResult{rec, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sink, err := OpenPipeContext(ctx, fifo, 80, 0)
	if err != nil {
		t.Fatalf("OpenPipeContext: %v", err)
	}
	defer sink.Close()

	if err := sink.Write(testFrame(7, filter.ComicEffect, 16, 8)); err != nil {
		t.Fatal(err)
	}
	r := <-got
	if r.err != nil {
		t.Fatalf("read: %v", r.err)
	}
	if r.rec.Seq != 7 || r.rec.Filter != "comic" {
		t.Errorf("unexpected record %+v", r.rec)
	}
}

func TestDirSink(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	sink, err := NewDirSink(dir, FormatPNG, 0)
	if err != nil {
		t.Fatal(err)
	}

	frame := testFrame(42, filter.Noir, 10, 6)
	if err := sink.Write(frame); err != nil {
		t.Fatal(err)
	}

	path := sink.Path(frame)
	if filepath.Base(path) != "frame_000042_20251105_234517.123.png" {
		t.Errorf("unexpected name %s", filepath.Base(path))
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 6 {
		t.Errorf("saved %v", b)
	}

	if _, err := NewDirSink(dir, "bmp", 0); err == nil {
		t.Error("expected error for bmp")
	}
}

type memSink struct {
	mu     sync.Mutex
	frames []*framesupplier.Frame
	closed bool
}

func (m *memSink) Name() string { return "mem" }

func (m *memSink) Write(f *framesupplier.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, f)
	return nil
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestRunSink(t *testing.T) {
	sup := framesupplier.New()
	if err := sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sup.Stop()

	sink := &memSink{}
	stats := &SinkStats{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSink(ctx, sup, sink, stats)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for stats.Written.Load() == 0 && time.Now().Before(deadline) {
		sup.Publish(testFrame(0, filter.Sepia, 4, 4))
		time.Sleep(10 * time.Millisecond)
	}
	if stats.Written.Load() == 0 {
		t.Fatal("sink never received a frame")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSink did not return after cancel")
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
}
