package streams

import (
	"fmt"
	"io"
	"os"

	"github.com/moby/term"
	"github.com/morikuni/aec"
	"github.com/sirupsen/logrus"
)

// Out is an output stream to write normal program output. It implements
// [io.Writer] with utilities for detecting whether a terminal is connected
// and for colored output.
type Out struct {
	commonStream
	out         io.Writer
	enableColor bool
}

func (o *Out) Write(p []byte) (int, error) {
	return o.out.Write(p)
}

func (o *Out) IsColorEnabled() bool {
	return o.enableColor
}

// GetTtySize returns the height and width in characters of the TTY, or
// zero for both if no TTY is connected.
func (o *Out) GetTtySize() (height uint, width uint) {
	if !o.isTerminal {
		return 0, 0
	}
	ws, err := term.GetWinsize(o.fd)
	if err != nil {
		logrus.WithError(err).Debug("Error getting TTY size")
		if ws == nil {
			return 0, 0
		}
	}
	return uint(ws.Height), uint(ws.Width)
}

// Styled is a printer that applies an ANSI style when color is enabled
// and writes plainly otherwise.
type Styled struct {
	out   *Out
	style aec.ANSI
}

// With returns a Styled printer for this stream.
func (o *Out) With(style aec.ANSI) *Styled {
	return &Styled{out: o, style: style}
}

func (s *Styled) Printf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if s.out.enableColor {
		text = s.style.Apply(text)
	}
	fmt.Fprint(s.out, text)
}

func (s *Styled) Println(args ...any) {
	text := fmt.Sprintln(args...)
	if s.out.enableColor {
		text = s.style.Apply(text)
	}
	fmt.Fprint(s.out, text)
}

// NewOut returns a new [Out] from an [io.Writer].
func NewOut(out io.Writer) *Out {
	o := &Out{out: out}
	o.fd, o.isTerminal = term.GetFdInfo(out)
	o.enableColor = hasColors(o.isTerminal)
	return o
}

func hasColors(isTerminal bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}

	force := os.Getenv("CLICOLOR_FORCE")
	if force != "" && force != "0" {
		return true
	}

	if os.Getenv("CLICOLOR") == "0" {
		return false
	}

	return isTerminal
}
