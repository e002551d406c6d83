// Package progress renders a spinner during long-running pipeline steps.
// Indicators are enabled solely based on whether stdout is a terminal;
// non-terminal output stays quiet.
package progress

import (
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

type Progress struct {
	ColorEnabled     bool
	IndicatorEnabled bool
	indicator        *spinner.Spinner
	indicatorMu      sync.Mutex
}

// New returns a Progress whose indicator is active only when isTerminal.
func New(isTerminal, colorEnabled bool) *Progress {
	return &Progress{
		ColorEnabled:     colorEnabled,
		IndicatorEnabled: isTerminal,
	}
}

func (p *Progress) Start(out io.Writer) {
	p.StartWithLabel("", out)
}

func (p *Progress) StartWithLabel(label string, out io.Writer) {
	if !p.IndicatorEnabled {
		return
	}

	p.indicatorMu.Lock()
	defer p.indicatorMu.Unlock()

	if p.indicator != nil {
		if label == "" {
			p.indicator.Prefix = ""
		} else {
			p.indicator.Prefix = label + " "
		}
		return
	}

	// https://github.com/briandowns/spinner#available-character-sets
	var sp *spinner.Spinner
	if p.ColorEnabled {
		sp = spinner.New(spinner.CharSets[11], 120*time.Millisecond, spinner.WithWriter(out), spinner.WithColor("fgCyan"))
	} else {
		sp = spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(out))
	}

	if label != "" {
		sp.Prefix = label + " "
	}

	sp.Start()
	p.indicator = sp
}

func (p *Progress) Stop() {
	p.indicatorMu.Lock()
	defer p.indicatorMu.Unlock()
	if p.indicator == nil {
		return
	}
	p.indicator.Stop()
	p.indicator = nil
}

// Run shows the labeled indicator for the duration of run.
func (p *Progress) Run(label string, out io.Writer, run func() error) error {
	p.StartWithLabel(label, out)
	defer p.Stop()

	return run()
}
