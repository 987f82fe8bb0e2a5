package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the daemon's active session",
}

var sessionInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the active session's name, device, and action count",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqGetSessionInfo})
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(resp)
		}
		fmt.Printf("Session:  %s\n", resp.SessionName)
		fmt.Printf("Active:   %s\n", formatBool(resp.Active))
		fmt.Printf("Device:   %s\n", resp.DeviceID)
		fmt.Printf("Actions:  %d\n", resp.ActionCount)
		return nil
	},
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Acknowledge the daemon's already-active boot-time session",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqStartSession})
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the active session",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqEndSession})
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

func init() {
	sessionCmd.AddCommand(sessionInfoCmd, sessionStartCmd, sessionEndCmd)
}
