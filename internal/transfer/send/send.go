// Package send implements the chunked send pipeline (spec C8): metadata
// framing, CRC32-framed chunk transmission, and the adaptive batch/yield
// tuning that reacts to the data channel's buffered amount. It generalizes
// the teacher's internal/transport/sender.go single-writer, backpressure-
// gated goroutine from a fixed 9-byte tunnel header to the spec's chunk
// frame and per-batch tuning rules.
package send

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/quietwire/wormhole/internal/progress"
	"github.com/quietwire/wormhole/internal/protocol"
	"github.com/quietwire/wormhole/internal/rtc"
)

// Constants from spec §4.8.1/§4.8.3.
const (
	DefaultChunkSize = 131072
	HighWater        = 1024 * 1024
	minYieldInterval = 10 * time.Millisecond
	maxYieldInterval = 200 * time.Millisecond
	initialYield     = 50 * time.Millisecond
	maxBatchSize     = 20
	openPollInterval = 100 * time.Millisecond
	openTimeout      = 30 * time.Second
)

// ErrChannelClosed reports that the data channel was no longer open when
// the next chunk was ready to send. A Send call that fails on a channel
// still reported open returns a wrapped send error instead. The session orchestrator treats this as a
// restart signal for the sender role (spec §4.7.3) rather than a terminal
// failure, since a fresh OnRestart-driven data channel may still arrive.
var ErrChannelClosed = errors.New("send: channel closed mid-transfer")

// TargetBuffer is max(131072, HighWater/2).
var TargetBuffer = func() int {
	half := HighWater / 2
	if half > DefaultChunkSize {
		return half
	}
	return DefaultChunkSize
}()

// FileBlob is the capability port over the file being sent: an opaque,
// randomly-accessible byte source plus the metadata the sender needs.
type FileBlob interface {
	Name() string
	Size() int64
	MIMEType() string
	ModTimeUnixMilli() int64
	ReadAt(buf []byte, offset int64) (int, error)
}

// State mirrors spec's SendState, owned exclusively by this package during
// one Run call.
type State struct {
	FileID            string
	Offset            int64
	BaseChunkSize     int
	CurrentChunkSize  int
	BatchSize         int
	YieldInterval     time.Duration
	Paused            bool
	BackpressureEvents int
	StartTime         time.Time
}

func newState(fileID string, size int64) *State {
	return &State{
		FileID:           fileID,
		BaseChunkSize:    DefaultChunkSize,
		CurrentChunkSize: DefaultChunkSize,
		BatchSize:        1,
		YieldInterval:    initialYield,
		StartTime:        time.Now(),
	}
}

// Pipeline drives one file's send over one data channel.
type Pipeline struct {
	dc       rtc.DataChannel
	blob     FileBlob
	throttle *progress.Throttle
	onReport func(progress.Report)

	state *State

	resume chan struct{}
}

// NewPipeline creates a send pipeline for blob over dc. onReport, if
// non-nil, is invoked with every non-suppressed progress report.
func NewPipeline(dc rtc.DataChannel, blob FileBlob, onReport func(progress.Report)) *Pipeline {
	p := &Pipeline{
		dc:       dc,
		blob:     blob,
		onReport: onReport,
		resume:   make(chan struct{}, 1),
	}
	dc.OnBufferedAmountLow(func() {
		select {
		case p.resume <- struct{}{}:
		default:
		}
	})
	return p
}

// Run blocks until the file has been fully sent, the channel closes, or ctx
// is cancelled.
func (p *Pipeline) Run(ctx context.Context, fileID string) error {
	if err := p.awaitOpen(ctx); err != nil {
		return err
	}

	size := p.blob.Size()
	p.state = newState(fileID, size)
	p.throttle = progress.New(p.state.StartTime)

	if err := p.sendMetadata(size); err != nil {
		return err
	}

	return p.loop(ctx, size)
}

func (p *Pipeline) awaitOpen(ctx context.Context) error {
	deadline := time.Now().Add(openTimeout)
	ticker := time.NewTicker(openPollInterval)
	defer ticker.Stop()

	for {
		if p.dc.ReadyState() == webrtc.DataChannelStateOpen {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("send: channel open timeout")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) sendMetadata(size int64) error {
	totalChunks := protocol.TotalChunks(uint64(size), uint32(p.state.BaseChunkSize))
	meta := protocol.FileMetadata{
		Type:         protocol.MetadataType,
		FileID:       p.state.FileID,
		Name:         p.blob.Name(),
		Size:         uint64(size),
		FileType:     p.blob.MIMEType(),
		LastModified: p.blob.ModTimeUnixMilli(),
		TotalChunks:  totalChunks,
		ChunkSize:    uint32(p.state.BaseChunkSize),
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("send: marshal metadata: %w", err)
	}
	if err := p.dc.SendText(string(data)); err != nil {
		return fmt.Errorf("send: send metadata: %w", err)
	}
	return nil
}

// loop implements spec §4.8.3's main loop, including the adaptive tuning
// rules applied at every batch boundary.
func (p *Pipeline) loop(ctx context.Context, size int64) error {
	buf := make([]byte, p.state.CurrentChunkSize)
	chunksThisBatch := 0

	for p.state.Offset < size {
		if p.dc.BufferedAmount() > uint64(HighWater) {
			p.state.Paused = true
			p.state.BackpressureEvents++
			if err := p.awaitResume(ctx); err != nil {
				return err
			}
			p.state.Paused = false
		}

		n := p.state.CurrentChunkSize
		remaining := size - p.state.Offset
		if int64(n) > remaining {
			n = int(remaining)
		}
		if len(buf) < n {
			buf = make([]byte, n)
		}

		got, err := p.blob.ReadAt(buf[:n], p.state.Offset)
		if err != nil {
			return fmt.Errorf("send: read error: %w", err)
		}
		payload := buf[:got]

		if p.dc.ReadyState() != webrtc.DataChannelStateOpen {
			return ErrChannelClosed
		}

		frame := protocol.EncodeChunk(payload)
		if err := p.dc.Send(frame); err != nil {
			return fmt.Errorf("send: send chunk: %w", err)
		}

		p.state.Offset += int64(got)
		p.reportProgress(size)

		chunksThisBatch++
		if chunksThisBatch >= p.state.BatchSize {
			chunksThisBatch = 0
			p.tune()

			select {
			case <-time.After(p.state.YieldInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

func (p *Pipeline) awaitResume(ctx context.Context) error {
	select {
	case <-p.resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tune applies spec §4.8.3's adaptive batch/yield rules.
func (p *Pipeline) tune() {
	buffered := int(p.dc.BufferedAmount())

	switch {
	case buffered < TargetBuffer/4 && p.state.BatchSize < maxBatchSize:
		p.state.BatchSize = min(maxBatchSize, p.state.BatchSize+2)
		p.state.YieldInterval = max(minYieldInterval, p.state.YieldInterval-5*time.Millisecond)
	case buffered > TargetBuffer && p.state.BatchSize > 1:
		p.state.BatchSize = max(1, int(float64(p.state.BatchSize)*0.7))
		p.state.YieldInterval = min(maxYieldInterval, p.state.YieldInterval+20*time.Millisecond)
	}
}

func (p *Pipeline) reportProgress(total int64) {
	report, ok := p.throttle.Update(uint64(p.state.Offset), uint64(total), time.Now())
	if ok && p.onReport != nil {
		p.onReport(report)
	}
}
