// Package recv implements the receive pipeline (spec C9): metadata
// ingestion, CRC32-verified chunk ingestion into memory or a streaming
// sink, and byte-count-gated completion. It is the receive-side
// counterpart of internal/transfer/send, grounded on the same teacher
// backpressure/single-writer idiom from internal/transport/sender.go, here
// applied to the inbound direction instead.
package recv

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quietwire/wormhole/internal/progress"
	"github.com/quietwire/wormhole/internal/protocol"
	"github.com/quietwire/wormhole/internal/sink"
)

// MaxInMemory is the size threshold above which the pipeline prefers a
// streaming sink over buffering in memory (spec §4.9.1).
const MaxInMemory = sink.MaxInMemory

// SinkOpener lets the caller decide, per transfer, whether and how to open
// a streaming sink — e.g. prompting the user for a destination path. It
// returns (nil, nil) to signal "use in-memory instead."
type SinkOpener func(meta protocol.FileMetadata) (sink.WritableSink, error)

// Artifact is the finished download handed to the Presenter (spec C10's
// DownloadReady). Exactly one of Bytes or Path is populated.
type Artifact struct {
	Name         string
	MIMEType     string
	LastModified int64
	Bytes        []byte // in-memory path
	Path         string // streaming path
}

// State mirrors spec's ReceiveState.
type State struct {
	Meta              protocol.FileMetadata
	ReceivedBytes     uint64
	ReceivedChunks    uint32
	UseStreaming      bool
	LastValidationErr error

	out       sink.WritableSink
	startTime time.Time
}

// Pipeline assembles one inbound transfer.
type Pipeline struct {
	openSink SinkOpener
	throttle *progress.Throttle
	onReport func(progress.Report)
	onWarn   func(string)

	state *State
}

// NewPipeline creates a receive pipeline. openSink may be nil, in which
// case every transfer is buffered in memory regardless of size.
func NewPipeline(openSink SinkOpener, onReport func(progress.Report), onWarn func(string)) *Pipeline {
	return &Pipeline{openSink: openSink, onReport: onReport, onWarn: onWarn}
}

// HandleText processes a text frame: only a metadata frame is legal here.
// It returns a non-nil Artifact in the boundary case of a zero-byte file,
// whose metadata alone already satisfies the completion condition (spec
// §8: "completion fires because received_bytes == 0 == size").
func (p *Pipeline) HandleText(data []byte) (*Artifact, error) {
	var meta protocol.FileMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("recv: malformed metadata: %w", err)
	}
	if meta.Type != protocol.MetadataType {
		return nil, fmt.Errorf("recv: unexpected text frame type %q", meta.Type)
	}
	return p.initState(meta)
}

func (p *Pipeline) initState(meta protocol.FileMetadata) (*Artifact, error) {
	st := &State{
		Meta:      meta,
		startTime: time.Now(),
	}

	if meta.Size > MaxInMemory && p.openSink != nil {
		s, err := p.openSink(meta)
		if err != nil {
			p.warn(fmt.Sprintf("streaming sink unavailable, buffering in memory: %v", err))
		} else if s != nil {
			st.out = s
			st.UseStreaming = true
		}
	}
	if st.out == nil {
		st.out = sink.NewMemory(int64(meta.Size))
		if meta.Size > MaxInMemory {
			p.warn("receiving a large file in memory; this may consume significant memory")
		}
	}

	p.state = st
	p.throttle = progress.New(st.startTime)
	return p.maybeComplete()
}

// HandleBinary processes one ChunkFrame. It returns a non-nil Artifact
// exactly once, when the transfer completes.
func (p *Pipeline) HandleBinary(buf []byte) (*Artifact, error) {
	if p.state == nil {
		return nil, fmt.Errorf("recv: chunk arrived before metadata")
	}

	receivedCRC, payload, ok := protocol.DecodeChunk(buf)
	if !ok {
		return nil, fmt.Errorf("recv: frame too short (%d bytes)", len(buf))
	}

	computedCRC := protocol.CRC32(payload)
	if receivedCRC != computedCRC {
		err := fmt.Errorf("recv: integrity mismatch: got %s want %s",
			protocol.CRC32Hex(receivedCRC), protocol.CRC32Hex(computedCRC))
		p.state.LastValidationErr = err
		return nil, err
	}

	if err := p.state.out.Write(payload); err != nil {
		return nil, fmt.Errorf("recv: sink write: %w", err)
	}

	p.state.ReceivedChunks++
	p.state.ReceivedBytes += uint64(len(payload))
	p.reportProgress()

	return p.maybeComplete()
}

// maybeComplete checks spec §4.9.2/§8's canonical completion signal:
// received_bytes == size is decisive; total_chunks is only a lower bound
// under adaptive chunk sizing and is checked as a secondary guard. A
// zero-byte file satisfies this immediately, with no chunks ever sent.
func (p *Pipeline) maybeComplete() (*Artifact, error) {
	if p.state.ReceivedBytes != p.state.Meta.Size || p.state.ReceivedChunks < p.state.Meta.TotalChunks {
		return nil, nil
	}
	return p.complete()
}

func (p *Pipeline) complete() (*Artifact, error) {
	meta := p.state.Meta

	if err := p.state.out.Close(); err != nil {
		return nil, fmt.Errorf("recv: close sink: %w", err)
	}

	if p.state.UseStreaming {
		path := ""
		if named, ok := p.state.out.(interface{ Path() string }); ok {
			path = named.Path()
		}
		return &Artifact{
			Name:         meta.Name,
			MIMEType:     meta.FileType,
			LastModified: meta.LastModified,
			Path:         path,
		}, nil
	}

	mem, _ := p.state.out.(*sink.Memory)
	return &Artifact{
		Name:         meta.Name,
		MIMEType:     meta.FileType,
		LastModified: meta.LastModified,
		Bytes:        mem.Bytes(),
	}, nil
}

func (p *Pipeline) reportProgress() {
	report, ok := p.throttle.Update(p.state.ReceivedBytes, p.state.Meta.Size, time.Now())
	if ok && p.onReport != nil {
		p.onReport(report)
	}
}

func (p *Pipeline) warn(msg string) {
	if p.onWarn != nil {
		p.onWarn(msg)
	}
}
