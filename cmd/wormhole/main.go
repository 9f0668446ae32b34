// Wormhole — CLI entry point.
//
// This tool transfers a file directly between two peers over a WebRTC data
// channel, brokered by a small signaling relay that never sees the file's
// bytes. It can run the relay (serve), send a file (send), or receive one
// (receive); with no flags at all it falls back to an interactive prompt,
// following the teacher's cmd/roj1/main.go split between flag-driven and
// interactive operation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/quietwire/wormhole/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	role := flag.String("role", "", "Role: serve, send, or receive")
	addr := flag.String("addr", ":8080", "Listen address (serve only)")
	wsURL := flag.String("ws", "", "Signaling server WebSocket URL (send/receive)")
	file := flag.String("file", "", "Path of the file to send (send only)")
	room := flag.String("room", "", "Room id to join (receive only)")
	outDir := flag.String("out", "", "Directory to save the received file into (receive only)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("wormhole — v%s", version))
	pterm.Println()

	var err error
	switch *role {
	case "":
		err = runInteractive(ctx)
	case "serve":
		err = runServe(ctx, *addr)
	case "send":
		if *file == "" {
			util.LogError("missing -file for send role")
			os.Exit(1)
		}
		err = runSend(ctx, normalizeWS(*wsURL), *file)
	case "receive":
		if *room == "" {
			util.LogError("missing -room for receive role")
			os.Exit(1)
		}
		err = runReceive(ctx, normalizeWS(*wsURL), *room, *outDir)
	default:
		util.LogError("invalid -role: must be 'serve', 'send', or 'receive'")
		os.Exit(1)
	}

	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func normalizeWS(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "ws://127.0.0.1:8080"
	}
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	if !strings.HasSuffix(raw, "/ws") {
		raw = strings.TrimSuffix(raw, "/") + "/ws"
	}
	return raw
}

func runInteractive(ctx context.Context) error {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Serve  — run the signaling relay",
			"Send   — share a file",
			"Receive — join a room and download",
		}).
		WithDefaultText("Select a role").
		Show()
	pterm.Println()

	switch {
	case strings.HasPrefix(choice, "Serve"):
		addr := askText("Listen address", ":8080")
		return runServe(ctx, addr)

	case strings.HasPrefix(choice, "Send"):
		wsURL := normalizeWS(askText("Signaling server URL", "ws://127.0.0.1:8080"))
		path := askText("Path of the file to send", "")
		return runSend(ctx, wsURL, path)

	default:
		wsURL := normalizeWS(askText("Signaling server URL", "ws://127.0.0.1:8080"))
		roomID := askText("Room id", "")
		outDir := askText("Save directory (blank = current directory, in memory)", "")
		return runReceive(ctx, wsURL, roomID, outDir)
	}
}

func askText(prompt, defaultValue string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		WithDefaultValue(defaultValue).
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}
