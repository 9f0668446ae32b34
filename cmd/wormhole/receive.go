package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/quietwire/wormhole/internal/protocol"
	"github.com/quietwire/wormhole/internal/session"
	"github.com/quietwire/wormhole/internal/signaling"
	"github.com/quietwire/wormhole/internal/sink"
)

func runReceive(ctx context.Context, wsURL, roomID, outDir string) error {
	link, err := signaling.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("connect to signaling server: %w", err)
	}
	defer link.Close()

	presenter := newCLIPresenter(outDir)

	openSink := func(meta protocol.FileMetadata) (sink.WritableSink, error) {
		if outDir == "" {
			return nil, nil // fall back to in-memory
		}
		ok, _ := pterm.DefaultInteractiveConfirm.
			WithDefaultText(fmt.Sprintf("%s is %d bytes, stream to disk instead of memory?", meta.Name, meta.Size)).
			Show()
		if !ok {
			return nil, nil
		}
		return sink.NewFile(outDir + "/" + meta.Name)
	}

	_, err = session.RunReceiver(ctx, link, presenter, roomID, openSink)
	return err
}
