package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/config"
)

// Build information (set from main.go)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags
var (
	socketPath   string
	sessionName  string
	outputFormat string
	noColor      bool
	requestTimeout time.Duration
)

// Global client instance, built once flags are resolved.
var client *Client

// rootCmd is the base command when qorvexctl is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "qorvexctl",
	Short: "CLI tool for driving the qorvex-host iOS automation daemon",
	Long: `qorvexctl talks to a running qorvexd daemon over its Unix-domain
socket, issuing execution, device, agent, and session commands and
rendering the daemon's responses.

Environment variables:
  QORVEX_SOCKET   Socket path override (default: ~/.qorvex/qorvex_<session>.sock)
  QORVEX_SESSION  Session name, used to resolve the default socket path
  QORVEX_OUTPUT   Output format: json, table (default: table)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "completion" || cmd.Name() == "version" ||
			(cmd.Parent() != nil && cmd.Parent().Name() == "completion") {
			return nil
		}

		InitColor(!noColor)

		if outputFormat == "" {
			outputFormat = os.Getenv("QORVEX_OUTPUT")
		}
		if outputFormat == "" {
			outputFormat = "table"
		}

		path := socketPath
		if path == "" {
			path = os.Getenv("QORVEX_SOCKET")
		}
		if path == "" {
			name := sessionName
			if name == "" {
				name = os.Getenv("QORVEX_SESSION")
			}
			if name == "" {
				name = "default"
			}
			paths, err := config.DefaultPaths()
			if err != nil {
				return fmt.Errorf("resolve default socket path: %w", err)
			}
			path = paths.SocketPath(name)
		}

		client = NewClient(path, requestTimeout)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		InitColor(!noColor)
		if outputFormat == "json" {
			_ = printJSON(map[string]string{
				"version":    Version,
				"commit":     Commit,
				"build_time": BuildTime,
				"go_version": runtime.Version(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			})
			return
		}
		fmt.Printf("%s\n", Bold("qorvexctl"))
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Built:      %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Daemon socket path (default: ~/.qorvex/qorvex_<session>.sock)")
	rootCmd.PersistentFlags().StringVar(&sessionName, "session", "", "Session name used to resolve the default socket path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, table (default: table)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(getStateCmd)
	rootCmd.AddCommand(getLogCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(targetCmd)
	rootCmd.AddCommand(timeoutCmd)
	rootCmd.AddCommand(watcherCmd)
	rootCmd.AddCommand(subscribeCmd)
	rootCmd.AddCommand(completionCmd)
}
