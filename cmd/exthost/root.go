package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/exthost/internal/app"
	"github.com/dshills/exthost/internal/plugin"
)

// hostFlags are shared by the commands that build an application.
type hostFlags struct {
	configPath       string
	pluginPaths      []string
	logLevel         string
	noDefaultPlugins bool
}

func (f *hostFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to the TOML configuration file")
	cmd.Flags().StringSliceVarP(&f.pluginPaths, "plugins", "p", nil, "plugin root directories (replaces configured roots)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	cmd.Flags().BoolVar(&f.noDefaultPlugins, "no-default-plugins", false, "do not load the bundled default plugins")
}

func (f *hostFlags) options(cmd *cobra.Command) app.Options {
	return app.Options{
		ConfigPath:       f.configPath,
		PluginPaths:      f.pluginPaths,
		LogLevel:         f.logLevel,
		NoDefaultPlugins: f.noDefaultPlugins,
		In:               cmd.InOrStdin(),
		Out:              cmd.OutOrStdout(),
		LogOutput:        cmd.ErrOrStderr(),
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "exthost",
		Short: "Editor extension host",
		Long: `exthost routes editor events to plugins and correlates their responses
with the editor state that triggered them.

The editor talks to the host over newline-delimited JSON on stdin/stdout.
Logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newPluginsCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newRunCommand() *cobra.Command {
	var flags hostFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve an editor over stdin/stdout",
		Example: `  # Use the configured plugin roots
  exthost run

  # Load only the plugins under ./plugins
  exthost run --plugins ./plugins --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(flags.options(cmd))
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer application.Shutdown()
			return application.Run(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}

func newPluginsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect plugins",
	}
	cmd.AddCommand(newPluginsListCommand())
	return cmd
}

func newPluginsListCommand() *cobra.Command {
	var flags hostFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins without starting them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(flags.options(cmd))
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer application.Shutdown()
			return listPlugins(cmd, application.Roots())
		},
	}
	flags.register(cmd)
	return cmd
}

func listPlugins(cmd *cobra.Command, roots []string) error {
	dirs := plugin.Discover(roots...)
	out := cmd.OutOrStdout()
	if len(dirs) == 0 {
		fmt.Fprintln(out, "No plugins found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tRUNTIME\tCOMMANDS\tPATH")
	for _, dir := range dirs {
		m, err := plugin.LoadManifestFromDir(dir)
		if err != nil {
			fmt.Fprintf(w, "?\t-\t-\t-\t%s (%v)\n", dir, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", m.Name, m.Version, m.Runtime, len(m.Commands), dir)
	}
	return w.Flush()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "exthost %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
