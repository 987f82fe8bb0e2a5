package main

import (
	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

var watcherCmd = &cobra.Command{
	Use:   "watcher",
	Short: "Control the daemon's background connection watcher",
}

var watcherIntervalMs uint64

var watcherStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start polling the installed driver's connection and ensuring the agent runs on drop",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := ipcserver.Request{Type: ipcserver.ReqStartWatcher}
		if watcherIntervalMs != 0 {
			req.IntervalMs = &watcherIntervalMs
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

var watcherStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background connection watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqStopWatcher})
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

func init() {
	watcherStartCmd.Flags().Uint64Var(&watcherIntervalMs, "interval-ms", 0, "poll interval, 0 uses the daemon default (2s)")
	watcherCmd.AddCommand(watcherStartCmd, watcherStopCmd)
}
