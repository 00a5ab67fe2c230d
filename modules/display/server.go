package display

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/filtercam/modules/filter"
	"github.com/e7canasta/filtercam/modules/framesupplier"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

//go:embed web/*
var webFS embed.FS

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	// subscriber id of the WebSocket broadcaster
	wsSubscriber = "websocket"
)

// ServerConfig configures the web viewer.
type ServerConfig struct {
	Listen      string
	JPEGQuality int
	MaxWidth    int
}

// StatusFunc returns service status for /api/status.
type StatusFunc func() map[string]any

// Server is the web viewer: an embedded page with the three filter buttons,
// a WebSocket stream of JPEG frames and a small HTTP API.
type Server struct {
	cfg      ServerConfig
	selector *filter.Selector
	supplier framesupplier.Supplier
	statusFn StatusFunc

	upgrader websocket.Upgrader
	clients  map[*viewer]struct{}
	mu       sync.Mutex

	router     *mux.Router
	announced  atomic.Int32
	framesOut  atomic.Uint64
	framesLost atomic.Uint64
}

// NewServer creates the viewer. statusFn may be nil.
func NewServer(cfg ServerConfig, selector *filter.Selector, supplier framesupplier.Supplier, statusFn StatusFunc) *Server {
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	s := &Server{
		cfg:      cfg,
		selector: selector,
		supplier: supplier,
		statusFn: statusFn,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*viewer]struct{}),
	}
	s.announced.Store(int32(selector.Get()))
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err) // embedded at build time
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/api/filter", s.handleGetFilter).Methods(http.MethodGet)
	r.HandleFunc("/api/filter/{kind}", s.handleSetFilter).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/snapshot.jpg", s.handleSnapshot).Methods(http.MethodGet)
	r.PathPrefix("/").Handler(http.FileServer(http.FS(sub))).Methods(http.MethodGet)
	return r
}

// Handler returns the HTTP handler (for tests and embedding).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP and streams frames to WebSocket clients until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	go s.broadcastFrames(ctx)

	slog.Info("display: web viewer listening", "addr", s.cfg.Listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SetFilter changes the active filter and tells every viewer. Returns the
// previous filter.
func (s *Server) SetFilter(kind filter.Kind, via string) filter.Kind {
	prev := s.selector.Swap(kind)
	if prev != kind {
		slog.Info("display: filter changed", "from", prev.String(), "to", kind.String(), "via", via)
	}
	s.announceCurrent()
	return prev
}

// announceCurrent pushes the active filter to viewers once per change. The
// selector is read under s.mu, so concurrent setters always leave the last
// announcement naming the filter that won.
func (s *Server) announceCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := s.selector.Get()
	if old := s.announced.Swap(int32(kind)); old == int32(kind) {
		return
	}
	payload := mustJSON(filterMessage(kind))
	for v := range s.clients {
		v.offerFilter(payload)
	}
}

func filterMessage(kind filter.Kind) map[string]any {
	return map[string]any{
		"type":      "filter",
		"filter":    kind.String(),
		"transform": kind.TransformName(),
	}
}

// broadcastFrames reads the display mailbox and sends each frame as one
// binary JPEG message to every client. Frames are encoded once per tick,
// only when someone is watching.
func (s *Server) broadcastFrames(ctx context.Context) {
	read := s.supplier.Subscribe(wsSubscriber)
	stop := context.AfterFunc(ctx, func() { s.supplier.Unsubscribe(wsSubscriber) })
	defer stop()

	for {
		frame := read()
		if frame == nil {
			return
		}

		// Filter changes from MQTT or the config file reach viewers here.
		s.announceCurrent()

		if s.clientCount() == 0 {
			continue
		}

		data, err := Encode(Scale(frame.Image, s.cfg.MaxWidth), FormatJPEG, s.cfg.JPEGQuality)
		if err != nil {
			slog.Warn("display: frame encode failed", "seq", frame.Seq, "error", err)
			continue
		}
		s.broadcastFrame(data)
	}
}

// broadcastFrame hands the frame to every viewer's outbox without waiting
// on any of them.
func (s *Server) broadcastFrame(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v := range s.clients {
		v.offerFrame(data)
	}
}

type clientMessage struct {
	Type   string `json:"type"`
	Filter string `json:"filter"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	v := newViewer(conn)
	s.mu.Lock()
	s.clients[v] = struct{}{}
	v.offerFilter(mustJSON(filterMessage(s.selector.Get())))
	s.mu.Unlock()

	slog.Debug("display: viewer connected", "remote", r.RemoteAddr)
	go v.writeLoop(&s.framesOut, func() { s.removeClient(v) })

	go func() {
		defer s.removeClient(v)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var msg clientMessage
			if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != "set_filter" {
				continue
			}
			kind, err := filter.ParseKind(msg.Filter)
			if err != nil {
				_ = v.write(websocket.TextMessage, mustJSON(map[string]any{
					"type":  "error",
					"error": err.Error(),
				}))
				continue
			}
			s.SetFilter(kind, "websocket")
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGetFilter(w http.ResponseWriter, _ *http.Request) {
	kind := s.selector.Get()
	names := make([]string, 0, 3)
	for _, k := range filter.Kinds() {
		names = append(names, k.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filter":    kind.String(),
		"transform": kind.TransformName(),
		"filters":   names,
	})
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	kind, err := filter.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	prev := s.SetFilter(kind, "http")
	writeJSON(w, http.StatusOK, map[string]any{
		"filter":   kind.String(),
		"previous": prev.String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{}
	if s.statusFn != nil {
		if st := s.statusFn(); st != nil {
			payload = st
		}
	}
	payload["filter"] = s.selector.Get().String()
	payload["ws_clients"] = s.clientCount()
	payload["ws_frames_sent"] = s.framesOut.Load()
	payload["ws_frames_skipped"] = s.framesSkipped()
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	frame := s.supplier.Latest()
	if frame == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	data, err := Encode(Scale(frame.Image, s.cfg.MaxWidth), FormatJPEG, s.cfg.JPEGQuality)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Filter", frame.Filter.String())
	_, _ = w.Write(data)
}

func (s *Server) removeClient(v *viewer) {
	s.mu.Lock()
	if _, ok := s.clients[v]; ok {
		delete(s.clients, v)
		s.framesLost.Add(v.dropped.Load())
	}
	s.mu.Unlock()
	v.close()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v := range s.clients {
		v.close()
		delete(s.clients, v)
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// framesSkipped counts frames that were replaced in a viewer's outbox before
// the viewer could take them.
func (s *Server) framesSkipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.framesLost.Load()
	for v := range s.clients {
		n += v.dropped.Load()
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
