package main

import (
	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

var targetCmd = &cobra.Command{
	Use:   "target <bundle-id>",
	Short: "Set the foreground app bundle id subsequent actions target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqSetTarget, BundleID: args[0]})
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}
