package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"

	"github.com/quietwire/wormhole/internal/progress"
	"github.com/quietwire/wormhole/internal/room"
	"github.com/quietwire/wormhole/internal/transfer/recv"
	"github.com/quietwire/wormhole/internal/util"
)

// cliPresenter is the pterm-backed session.Presenter — the CLI's concrete
// implementation of the spec's Presenter port, in the same role as the
// teacher's bare fmt.Println/pterm calls scattered through cmd/roj1, but
// collected behind one interface.
type cliPresenter struct {
	outDir string
	bar    *pterm.ProgressbarPrinter
	last   uint64
}

func newCLIPresenter(outDir string) *cliPresenter {
	return &cliPresenter{outDir: outDir}
}

func (p *cliPresenter) Status(msg string) {
	pterm.Info.Println(msg)
}

func (p *cliPresenter) Progress(r progress.Report) {
	if p.bar == nil {
		bar, _ := pterm.DefaultProgressbar.
			WithTotal(int(r.Total)).
			WithTitle("transferring").
			Start()
		p.bar = bar
	}
	if delta := int64(r.Transferred) - int64(p.last); delta > 0 {
		p.bar.Add(int(delta))
	}
	p.last = r.Transferred
	p.bar.UpdateTitle(r.Text)
}

func (p *cliPresenter) Error(err error) {
	util.LogError("%v", err)
}

func (p *cliPresenter) ApprovalRequest(peer room.PeerHandle) bool {
	ok, _ := pterm.DefaultInteractiveConfirm.
		WithDefaultText(fmt.Sprintf("peer %s wants to join, accept?", peer)).
		Show()
	return ok
}

func (p *cliPresenter) DownloadReady(artifact recv.Artifact) {
	if p.bar != nil {
		p.bar.Stop()
	}

	if artifact.Path != "" {
		pterm.Success.Printfln("saved to %s", artifact.Path)
		return
	}

	dest := artifact.Name
	if p.outDir != "" {
		dest = p.outDir + string(os.PathSeparator) + artifact.Name
	}
	if err := os.WriteFile(dest, artifact.Bytes, 0o644); err != nil {
		util.LogError("failed to write %s: %v", dest, err)
		return
	}
	pterm.Success.Printfln("saved to %s", dest)
}
