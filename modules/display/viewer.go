package display

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// viewer is one WebSocket client. Frames and filter announcements wait in
// single-slot outboxes drained by the viewer's own writer goroutine, so a
// client that stops reading only falls behind itself.
type viewer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	frames  chan []byte
	filters chan []byte
	done    chan struct{}
	once    sync.Once

	dropped atomic.Uint64
}

func newViewer(conn *websocket.Conn) *viewer {
	return &viewer{
		conn:    conn,
		frames:  make(chan []byte, 1),
		filters: make(chan []byte, 1),
		done:    make(chan struct{}),
	}
}

// offerFrame replaces any frame the writer has not picked up yet.
func (v *viewer) offerFrame(payload []byte) {
	if replace(v.frames, payload) {
		v.dropped.Add(1)
	}
}

// offerFilter keeps only the most recent announcement.
func (v *viewer) offerFilter(payload []byte) {
	replace(v.filters, payload)
}

// replace stores payload in a one-slot channel, evicting the previous value.
// Reports whether something was evicted.
func replace(slot chan []byte, payload []byte) bool {
	evicted := false
	for {
		select {
		case slot <- payload:
			return evicted
		default:
		}
		select {
		case <-slot:
			evicted = true
		default:
		}
	}
}

// writeLoop sends queued messages and keepalive pings until the viewer is
// closed or a write fails. sent is incremented per delivered frame.
func (v *viewer) writeLoop(sent *atomic.Uint64, onError func()) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		var err error
		// Announcements go ahead of any queued frame.
		select {
		case msg := <-v.filters:
			err = v.write(websocket.TextMessage, msg)
		default:
			select {
			case <-v.done:
				return
			case msg := <-v.filters:
				err = v.write(websocket.TextMessage, msg)
			case frame := <-v.frames:
				if err = v.write(websocket.BinaryMessage, frame); err == nil {
					sent.Add(1)
				}
			case <-ticker.C:
				err = v.write(websocket.PingMessage, nil)
			}
		}
		if err != nil {
			onError()
			return
		}
	}
}

func (v *viewer) write(messageType int, payload []byte) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return v.conn.WriteMessage(messageType, payload)
}

func (v *viewer) close() {
	v.once.Do(func() {
		close(v.done)
		_ = v.conn.Close()
	})
}
