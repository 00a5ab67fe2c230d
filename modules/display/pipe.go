package display

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/e7canasta/filtercam/modules/framesupplier"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sys/unix"
)

// maxRecordSize bounds a single pipe record on read.
const maxRecordSize = 64 << 20

// Record is one frame on the viewer pipe.
//
// Wire format: 4-byte big-endian length, then the msgpack-encoded record.
type Record struct {
	Seq       uint64 `msgpack:"seq"`
	TraceID   string `msgpack:"trace_id"`
	Filter    string `msgpack:"filter"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	Timestamp int64  `msgpack:"timestamp_ns"`
	Format    string `msgpack:"format"`
	Data      []byte `msgpack:"data"`
}

// PipeSink streams frames to an external viewer process.
type PipeSink struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	quality  int
	maxWidth int
}

// OpenPipe opens path for writing ("-" is stdout). A FIFO blocks until the
// viewer opens the read end.
func OpenPipe(path string, quality, maxWidth int) (*PipeSink, error) {
	if path == "-" {
		return NewPipeSink(os.Stdout, nil, quality, maxWidth), nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("display: open pipe %s: %w", path, err)
	}
	return NewPipeSink(f, f, quality, maxWidth), nil
}

// OpenPipeContext is OpenPipe that gives up when ctx is done while a FIFO is
// still waiting for its viewer.
func OpenPipeContext(ctx context.Context, path string, quality, maxWidth int) (*PipeSink, error) {
	type result struct {
		sink *PipeSink
		err  error
	}
	opened := make(chan result, 1)
	go func() {
		sink, err := OpenPipe(path, quality, maxWidth)
		opened <- result{sink, err}
	}()

	select {
	case r := <-opened:
		return r.sink, r.err
	case <-ctx.Done():
	}

	// Attaching a reader of our own releases the blocked open.
	if rd, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0); err == nil {
		r := <-opened
		if r.sink != nil {
			_ = r.sink.Close()
		}
		_ = rd.Close()
	}
	return nil, fmt.Errorf("display: open pipe %s: %w", path, ctx.Err())
}

// NewPipeSink writes records to w; closer (may be nil) is closed by Close.
func NewPipeSink(w io.Writer, closer io.Closer, quality, maxWidth int) *PipeSink {
	return &PipeSink{w: w, closer: closer, quality: quality, maxWidth: maxWidth}
}

func (p *PipeSink) Name() string { return "pipe" }

// Write encodes the frame as JPEG and writes one length-prefixed record.
func (p *PipeSink) Write(frame *framesupplier.Frame) error {
	img := Scale(frame.Image, p.maxWidth)
	data, err := Encode(img, FormatJPEG, p.quality)
	if err != nil {
		return err
	}

	payload, err := msgpack.Marshal(&Record{
		Seq:       frame.Seq,
		TraceID:   frame.TraceID,
		Filter:    frame.Filter.String(),
		Width:     img.Rect.Dx(),
		Height:    img.Rect.Dy(),
		Timestamp: frame.Timestamp.UnixNano(),
		Format:    FormatJPEG,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("display: failed to marshal record: %w", err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("display: failed to write length prefix: %w", err)
	}
	if _, err := p.w.Write(payload); err != nil {
		return fmt.Errorf("display: failed to write record: %w", err)
	}
	return nil
}

func (p *PipeSink) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// ReadRecord reads one length-prefixed record. Returns io.EOF at a clean
// end of stream.
func ReadRecord(r io.Reader) (*Record, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxRecordSize {
		return nil, fmt.Errorf("display: record of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("display: short record: %w", err)
	}

	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("display: failed to unmarshal record: %w", err)
	}
	return &rec, nil
}
