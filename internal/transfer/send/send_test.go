package send

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/quietwire/wormhole/internal/progress"
	"github.com/quietwire/wormhole/internal/protocol"
)

// mockDataChannel is a minimal in-memory rtc.DataChannel double: every sent
// frame is recorded in order, readiness and buffered amount are controlled
// directly by the test, mirroring the teacher's tests/adapter_test.go
// mockTransport shape.
type mockDataChannel struct {
	mu        sync.Mutex
	state     webrtc.DataChannelState
	buffered  uint64
	sent      [][]byte
	texts     []string
	lowThresh uint64
	onLow     func()
	onOpen    func()
	onClose   func()
	onError   func(error)
	onMessage func([]byte, bool)
}

func newMockDataChannel() *mockDataChannel {
	return &mockDataChannel{state: webrtc.DataChannelStateOpen}
}

func (m *mockDataChannel) Send(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	m.sent = append(m.sent, cp)
	return nil
}

func (m *mockDataChannel) SendText(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, s)
	return nil
}

func (m *mockDataChannel) BufferedAmount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buffered
}

func (m *mockDataChannel) SetBufferedAmountLowThreshold(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowThresh = n
}

func (m *mockDataChannel) OnBufferedAmountLow(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLow = fn
}

func (m *mockDataChannel) OnOpen(fn func())       { m.onOpen = fn }
func (m *mockDataChannel) OnClose(fn func())      { m.onClose = fn }
func (m *mockDataChannel) OnError(fn func(error)) { m.onError = fn }

func (m *mockDataChannel) OnMessage(fn func([]byte, bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

func (m *mockDataChannel) Close() error { return nil }

func (m *mockDataChannel) ReadyState() webrtc.DataChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockDataChannel) setBuffered(n uint64) {
	m.mu.Lock()
	m.buffered = n
	low := m.onLow
	m.mu.Unlock()
	if n == 0 && low != nil {
		low()
	}
}

func (m *mockDataChannel) sentFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockDataChannel) sentTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

// memBlob is an in-memory FileBlob.
type memBlob struct {
	name string
	data []byte
}

func (b *memBlob) Name() string            { return b.name }
func (b *memBlob) Size() int64             { return int64(len(b.data)) }
func (b *memBlob) MIMEType() string        { return "application/octet-stream" }
func (b *memBlob) ModTimeUnixMilli() int64 { return 0 }

func (b *memBlob) ReadAt(buf []byte, offset int64) (int, error) {
	if offset >= int64(len(b.data)) {
		return 0, nil
	}
	n := copy(buf, b.data[offset:])
	return n, nil
}

func TestPipelineSendsMetadataThenChunks(t *testing.T) {
	dc := newMockDataChannel()
	blob := &memBlob{name: "report.txt", data: bytes.Repeat([]byte("x"), DefaultChunkSize*3+17)}

	var reports []progress.Report
	p := NewPipeline(dc, blob, func(r progress.Report) { reports = append(reports, r) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.Run(ctx, "file-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	texts := dc.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("expected exactly one metadata text frame, got %d", len(texts))
	}
	var meta protocol.FileMetadata
	if err := json.Unmarshal([]byte(texts[0]), &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.Name != "report.txt" || meta.Size != uint64(len(blob.data)) {
		t.Errorf("metadata = %+v, unexpected", meta)
	}

	frames := dc.sentFrames()
	var total int
	for _, f := range frames {
		_, payload, ok := protocol.DecodeChunk(f)
		if !ok {
			t.Fatalf("sent frame failed to decode")
		}
		total += len(payload)
	}
	if total != len(blob.data) {
		t.Errorf("total sent payload bytes = %d, want %d", total, len(blob.data))
	}
}

func TestPipelineAwaitOpenTimesOutIfNeverOpen(t *testing.T) {
	dc := newMockDataChannel()
	dc.state = webrtc.DataChannelStateConnecting

	p := NewPipeline(dc, &memBlob{name: "x", data: []byte("a")}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := p.Run(ctx, "file-1"); err == nil {
		t.Fatalf("expected Run to fail when the channel never opens and the context is cancelled")
	}
}

func TestPipelinePausesOnHighBufferedAmount(t *testing.T) {
	dc := newMockDataChannel()
	dc.setBuffered(HighWater + 1)
	blob := &memBlob{name: "x", data: bytes.Repeat([]byte("y"), 10)}

	p := NewPipeline(dc, blob, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, "file-1") }()

	// Give the loop a moment to observe backpressure and block, then release it.
	time.Sleep(50 * time.Millisecond)
	dc.setBuffered(0)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not resume after buffered amount dropped")
	}

	if p.state.BackpressureEvents == 0 {
		t.Errorf("expected at least one backpressure event to be recorded")
	}
}
