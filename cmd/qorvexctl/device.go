package main

import (
	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Discover and select simulator targets",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available simulator devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqListDevices})
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(resp.Devices)
		}
		rows := make([][]string, len(resp.Devices))
		for i, d := range resp.Devices {
			rows[i] = []string{d}
		}
		printTable([]string{"DEVICE"}, rows)
		return nil
	},
}

var deviceUseCmd = &cobra.Command{
	Use:   "use <device-id>",
	Short: "Set the device id used by subsequent start-agent calls",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqUseDevice, DeviceID: args[0]})
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

var deviceBootCmd = &cobra.Command{
	Use:   "boot <device-id>",
	Short: "Boot a simulator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqBootDevice, DeviceID: args[0]})
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

func init() {
	deviceCmd.AddCommand(deviceListCmd, deviceUseCmd, deviceBootCmd)
}
