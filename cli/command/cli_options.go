package command

import (
	"io"

	"zkg/cli/streams"
	"zkg/pkg/git"
	"zkg/pkg/platform"

	"github.com/moby/term"
)

// CLIOption is a functional argument to apply options to a [ZkgCli]. These
// options can be passed to [NewZkgCli] to initialize a new CLI, or
// applied with [ZkgCli.Initialize] or [ZkgCli.Apply].
type CLIOption func(cli *ZkgCli) error

// WithStandardStreams sets a cli in, out and err streams with the standard streams.
func WithStandardStreams() CLIOption {
	return func(cli *ZkgCli) error {
		// Set terminal emulation based on platform as required.
		stdin, stdout, stderr := term.StdStreams()
		cli.in = streams.NewIn(stdin)
		cli.out = streams.NewOut(stdout)
		cli.err = streams.NewOut(stderr)
		return nil
	}
}

// WithCombinedStreams uses the same stream for the output and error streams.
func WithCombinedStreams(combined io.Writer) CLIOption {
	return func(cli *ZkgCli) error {
		s := streams.NewOut(combined)
		cli.out = s
		cli.err = s
		return nil
	}
}

// WithInputStream sets a cli input stream.
func WithInputStream(in io.ReadCloser) CLIOption {
	return func(cli *ZkgCli) error {
		cli.in = streams.NewIn(in)
		return nil
	}
}

// WithOutputStream sets a cli output stream.
func WithOutputStream(out io.Writer) CLIOption {
	return func(cli *ZkgCli) error {
		cli.out = streams.NewOut(out)
		return nil
	}
}

// WithErrorStream sets a cli error stream.
func WithErrorStream(err io.Writer) CLIOption {
	return func(cli *ZkgCli) error {
		cli.err = streams.NewOut(err)
		return nil
	}
}

// WithVCSDriver substitutes the version-control driver, for tests.
func WithVCSDriver(d git.Driver) CLIOption {
	return func(cli *ZkgCli) error {
		cli.driver = d
		return nil
	}
}

// WithPlatform substitutes the host platform accessor, for tests.
func WithPlatform(p platform.Platform) CLIOption {
	return func(cli *ZkgCli) error {
		cli.plat = p
		return nil
	}
}
