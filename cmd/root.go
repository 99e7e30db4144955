// Package cmd implements netplugd's command-line surface: a single
// daemon command with no subcommands, since this is a foreground-or-
// background process rather than a multi-verb CLI.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"netplugd/daemon"
	"netplugd/logging"
	"netplugd/pattern"
)

// Version is set at build time.
var Version = "0.1.0"

// DefaultScript is the helper script netplugd execs for every action,
// the Go-side NP_SCRIPT.
const DefaultScript = "/etc/netplug/netplug"

// DefaultConfigPath is read only if -c was never given.
const DefaultConfigPath = "/etc/netplugd.conf"

var (
	flagForeground bool
	flagNoProbe    bool
	flagDebug      bool
	flagConfigPath string
	flagPatterns   []string
	flagPidFile    string
)

var rootCmd = &cobra.Command{
	Use:     "netplugd",
	Short:   "monitor network interface link state and run a helper script on change",
	Version: Version,
	Long: `netplugd watches link-layer state of network interfaces via the
kernel's route-netlink socket and runs an external helper script when an
interface goes administratively up/down or gains/loses carrier.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

func init() {
	// SilenceUsage keeps a runtime failure (bad config, socket error) from
	// dumping a usage blurb, but an unknown/malformed flag should still
	// print usage before Execute reports the error, per usual CLI
	// behavior.
	rootCmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		fmt.Fprintln(os.Stderr, c.UsageString())
		return err
	})
	rootCmd.Flags().BoolVarP(&flagForeground, "foreground", "F", false,
		"run in foreground; log to stdout/stderr instead of syslog")
	rootCmd.Flags().BoolVarP(&flagNoProbe, "no-probe", "P", false,
		"do not autoprobe for interfaces (use with care)")
	rootCmd.Flags().BoolVarP(&flagDebug, "debug", "D", false,
		"print extra debugging messages")
	rootCmd.Flags().StringVarP(&flagConfigPath, "config", "c", "",
		"read interface patterns from this config file")
	rootCmd.Flags().StringArrayVarP(&flagPatterns, "interface", "i", nil,
		"only handle interfaces matching this pattern (repeatable)")
	rootCmd.Flags().StringVarP(&flagPidFile, "pid-file", "p", "",
		"write the daemon process ID to this file")
}

// exitCode is set by runDaemon since cobra's RunE only distinguishes
// "error" from "no error", not the three-way 0/1 split netplugd needs:
// a clean loop exit and a signal-driven shutdown both return a nil error
// to cobra, but demand different process exit codes.
var exitCode int

// Execute parses flags and runs the daemon, returning the process exit
// code to use.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

func runDaemon(cmd *cobra.Command, args []string) error {
	setupLogging()

	patterns, err := loadConfig()
	if err != nil {
		exitCode = 1
		return err
	}
	for _, p := range flagPatterns {
		if err := patterns.Add(p); err != nil {
			fmt.Fprintf(os.Stderr, "Bad pattern for \"-i %s\"\n", p)
			exitCode = 1
			return err
		}
	}

	d, err := daemon.New(daemon.Config{
		Script:      DefaultScript,
		PidFilePath: flagPidFile,
		Probe:       !flagNoProbe,
	}, patterns)
	if err != nil {
		exitCode = 1
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := d.Run(ctx)

	if ctx.Err() != nil {
		logging.Default().Error("caught signal - exiting")
		exitCode = 1
		return nil
	}
	if runErr != nil {
		exitCode = 1
		return runErr
	}
	exitCode = 0
	return nil
}

// loadConfig reads patterns from flagConfigPath, or DefaultConfigPath if
// none was given. A missing config file is logged and otherwise ignored,
// mirroring read_config's fopen-failure handling (an absent file yields
// an empty pattern set rather than a fatal error); a malformed pattern
// within a file that did open is fatal.
func loadConfig() (*pattern.Set, error) {
	path := flagConfigPath
	if path == "" {
		path = DefaultConfigPath
	}

	if path == "-" {
		return pattern.Load(os.Stdin, "stdin")
	}

	f, err := os.Open(path)
	if err != nil {
		logging.Default().Warn("could not read config file", "path", path, "error", err)
		return pattern.New(), nil
	}
	defer f.Close()

	return pattern.Load(f, path)
}

func setupLogging() {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}

	format := "syslog"
	if flagForeground {
		format = "foreground"
	}

	logger := logging.NewLogger(logging.Config{
		Level:     level,
		Format:    format,
		Output:    os.Stderr,
		SyslogTag: "netplugd",
	})
	logging.SetDefault(logger)
}
