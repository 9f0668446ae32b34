package main

import (
	"context"
	"fmt"

	"github.com/quietwire/wormhole/internal/session"
	"github.com/quietwire/wormhole/internal/signaling"
)

func runSend(ctx context.Context, wsURL, path string) error {
	blob, err := openFileBlob(path)
	if err != nil {
		return err
	}
	defer blob.Close()

	link, err := signaling.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("connect to signaling server: %w", err)
	}
	defer link.Close()

	presenter := newCLIPresenter("")
	_, err = session.RunSender(ctx, link, presenter, blob)
	return err
}
