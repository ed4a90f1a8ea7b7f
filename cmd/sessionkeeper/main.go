package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmd := command{out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createCreateCommand(cmd),
		createCloseCommand(cmd),
		createRestartCommand(cmd),
		createListCommand(cmd),
		createStatusCommand(cmd),
		createInstancesCommand(cmd),
		createStatsCommand(cmd),
		createNavigateCommand(cmd),
		createRefreshCommand(cmd),
		createScreenshotCommand(cmd),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sessionkeeper",
		Short: "Keep persistent browser sessions alive",
		Long: `Sessionkeeper runs Chromium sessions with persistent profiles, keeps them
alive with periodic reloads, and rotates closed instances in the background
while no observer is connected.

Examples:
  sessionkeeper serve --config=sessionkeeper.toml
  sessionkeeper create --url=https://example.com --name=example
  sessionkeeper list
  sessionkeeper close --id=1 --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default "+defaultAPIUrl+")")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 60*time.Second, "request timeout")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for a TLS daemon")
}

func mustRequire(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the sessionkeeper daemon",
		Long: `Start the daemon: API server, keep-alive and rotation schedulers.
Configuration is read from the TOML file given as argument or via --config;
without one the built-in defaults are used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}
}

func createCreateCommand(c command) *cobra.Command {
	f := &CreateFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new browser instance",
		Long: `Create a stored instance and open its URL in a fresh profile.

Examples:
  sessionkeeper create --url=https://example.com
  sessionkeeper create --url=https://news.example --group=news --tags=daily`,
		RunE: func(cmd *cobra.Command, args []string) error { return c.Create(*f) },
	}
	cmd.Flags().StringVar(&f.URL, "url", "", "target URL (required)")
	cmd.Flags().StringVar(&f.Name, "name", "", "display name")
	cmd.Flags().StringVar(&f.Description, "description", "", "description")
	cmd.Flags().StringVar(&f.Group, "group", "", "group name")
	cmd.Flags().StringVar(&f.Tags, "tags", "", "comma separated tags")
	cmd.Flags().IntVar(&f.Priority, "priority", 0, "priority (1 = default)")
	addAPIFlags(cmd, &f.API)
	mustRequire(cmd, "url")
	return cmd
}

func createCloseCommand(c command) *cobra.Command {
	f := &CloseFlags{}
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close a running session",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Close(*f) },
	}
	cmd.Flags().Int64Var(&f.ID, "id", 0, "instance id (required)")
	cmd.Flags().StringVar(&f.Reason, "reason", "manual", "close reason: manual, background or shutdown")
	addAPIFlags(cmd, &f.API)
	mustRequire(cmd, "id")
	return cmd
}

func createRestartCommand(c command) *cobra.Command {
	f := &IDFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Reopen a stored instance",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Restart(*f) },
	}
	cmd.Flags().Int64Var(&f.ID, "id", 0, "instance id (required)")
	addAPIFlags(cmd, &f.API)
	mustRequire(cmd, "id")
	return cmd
}

func createListCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List running sessions",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.List(*f) },
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and rotation state",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Status(*f) },
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createInstancesCommand(c command) *cobra.Command {
	f := &InstancesFlags{}
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Show stored instances",
		Long: `Show stored instances, oldest close first.

Examples:
  sessionkeeper instances
  sessionkeeper instances --id=3
  sessionkeeper instances --id=3 --sessions=20
  sessionkeeper instances --groups
  sessionkeeper instances --closed --limit=10`,
		RunE: func(cmd *cobra.Command, args []string) error { return c.Instances(*f) },
	}
	cmd.Flags().Int64Var(&f.ID, "id", 0, "show a single instance")
	cmd.Flags().BoolVar(&f.Groups, "groups", false, "show the per-group rollup")
	cmd.Flags().BoolVar(&f.Closed, "closed", false, "show closed instances in rotation order")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "with --closed, show at most N instances")
	cmd.Flags().IntVar(&f.Sessions, "sessions", 0, "with --id, show the newest N session records")
	addAPIFlags(cmd, &f.API)
	return cmd
}

func createStatsCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate statistics",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Stats(*f) },
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createNavigateCommand(c command) *cobra.Command {
	f := &NavigateFlags{}
	cmd := &cobra.Command{
		Use:   "navigate",
		Short: "Load a URL in a running session",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Navigate(*f) },
	}
	cmd.Flags().Int64Var(&f.ID, "id", 0, "instance id (required)")
	cmd.Flags().StringVar(&f.URL, "url", "", "target URL (required)")
	addAPIFlags(cmd, &f.API)
	mustRequire(cmd, "id", "url")
	return cmd
}

func createRefreshCommand(c command) *cobra.Command {
	f := &IDFlags{}
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload the page of a running session",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Refresh(*f) },
	}
	cmd.Flags().Int64Var(&f.ID, "id", 0, "instance id (required)")
	addAPIFlags(cmd, &f.API)
	mustRequire(cmd, "id")
	return cmd
}

func createScreenshotCommand(c command) *cobra.Command {
	f := &ScreenshotFlags{}
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Save a full-page PNG of a running session",
		RunE:  func(cmd *cobra.Command, args []string) error { return c.Screenshot(*f) },
	}
	cmd.Flags().Int64Var(&f.ID, "id", 0, "instance id (required)")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "", "output file (default instance_<id>.png)")
	addAPIFlags(cmd, &f.API)
	mustRequire(cmd, "id")
	return cmd
}
