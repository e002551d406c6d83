package command

import (
	"io"

	"zkg/cli/debug"
	cliflags "zkg/cli/flags"
	"zkg/cli/streams"
	"zkg/cli/version"
	"zkg/pkg/config"
	"zkg/pkg/git"
	"zkg/pkg/platform"
	"zkg/pkg/pm/manager"
	"zkg/pkg/progress"

	"github.com/spf13/cobra"
)

// Streams is an interface which exposes the standard input and output streams
type Streams interface {
	In() *streams.In
	Out() *streams.Out
	Err() *streams.Out
}

// Cli represents the zkg command line client.
type Cli interface {
	Streams
	SetIn(in *streams.In)
	Apply(ops ...CLIOption) error
	Config() (*config.Config, error)
	Manager() (*manager.Manager, error)
	Platform() platform.Platform
	Progress() *progress.Progress
}

// ZkgCli is an instance of the zkg command line client.
// Instances of the client can be returned from NewZkgCli.
type ZkgCli struct {
	in  *streams.In
	out *streams.Out
	err *streams.Out

	configFile string
	cfg        *config.Config
	driver     git.Driver
	plat       platform.Platform
	mgr        *manager.Manager
}

// NewZkgCli returns a ZkgCli instance with all operators applied on it.
// It applies by default the standard streams.
func NewZkgCli(ops ...CLIOption) (*ZkgCli, error) {
	defaultOps := []CLIOption{
		WithStandardStreams(),
	}
	ops = append(defaultOps, ops...)

	cli := &ZkgCli{}
	if err := cli.Apply(ops...); err != nil {
		return nil, err
	}
	return cli, nil
}

// Out returns the writer used for stdout
func (cli *ZkgCli) Out() *streams.Out {
	return cli.out
}

// Err returns the writer used for stderr
func (cli *ZkgCli) Err() *streams.Out {
	return cli.err
}

// SetIn sets the reader used for stdin
func (cli *ZkgCli) SetIn(in *streams.In) {
	cli.in = in
}

// In returns the reader used for stdin
func (cli *ZkgCli) In() *streams.In {
	return cli.in
}

// ShowHelp shows the command help.
func ShowHelp(err io.Writer) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cmd.SetOut(err)
		cmd.HelpFunc()(cmd, args)
		return nil
	}
}

// Apply all the operation on the cli
func (cli *ZkgCli) Apply(ops ...CLIOption) error {
	for _, op := range ops {
		if err := op(cli); err != nil {
			return err
		}
	}
	return nil
}

// Config lazily loads the user configuration.
func (cli *ZkgCli) Config() (*config.Config, error) {
	if cli.cfg == nil {
		path := cli.configFile
		if path == "" {
			path = config.DefaultPath()
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cli.cfg = cfg
	}
	return cli.cfg, nil
}

// Platform returns the host platform accessor.
func (cli *ZkgCli) Platform() platform.Platform {
	if cli.plat == nil {
		cli.plat = platform.NewConfigTool("")
	}
	return cli.plat
}

// Progress returns a progress indicator gated on stdout being a terminal.
func (cli *ZkgCli) Progress() *progress.Progress {
	return progress.New(cli.out.IsTerminal(), cli.out.IsColorEnabled())
}

// Manager builds the engine entry point from the loaded configuration.
func (cli *ZkgCli) Manager() (*manager.Manager, error) {
	if cli.mgr != nil {
		return cli.mgr, nil
	}

	cfg, err := cli.Config()
	if err != nil {
		return nil, err
	}

	if cli.driver == nil {
		cli.driver = git.NewExecDriver()
	}

	mgr, err := manager.New(cfg, cli.driver, cli.Platform(), version.Version, cli.out, cli.err, cli.Progress())
	if err != nil {
		return nil, err
	}
	mgr.Interactive = cli.in.IsTerminal()
	cli.mgr = mgr
	return mgr, nil
}

// Initialize runs initialization that must happen after command line
// flags are parsed.
func (cli *ZkgCli) Initialize(opts *cliflags.ClientOptions, ops ...CLIOption) error {
	for _, o := range ops {
		if err := o(cli); err != nil {
			return err
		}
	}
	cliflags.SetLogLevel(opts.LogLevel)

	if opts.ConfigFile != "" {
		cli.configFile = opts.ConfigFile
	}

	if opts.Debug {
		debug.Enable()
	}

	return nil
}
