package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

var timeoutCmd = &cobra.Command{
	Use:   "timeout [milliseconds]",
	Short: "Get or set the default selector wait timeout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqGetTimeout})
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				return printJSON(map[string]uint64{"timeout_ms": resp.TimeoutMs})
			}
			fmt.Printf("%dms\n", resp.TimeoutMs)
			return nil
		}

		var ms uint64
		if _, err := fmt.Sscanf(args[0], "%d", &ms); err != nil {
			return fmt.Errorf("invalid milliseconds %q: %w", args[0], err)
		}
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqSetTimeout, TimeoutMs: ms})
		if err != nil {
			return err
		}
		fmt.Printf("%s timeout set to %dms\n", Green("✓"), resp.TimeoutMs)
		return nil
	},
}
