package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Stream the session's broadcast events until interrupted or lagged past capacity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return client.Subscribe(func(resp ipcserver.Response) error {
			if resp.Event == nil {
				return nil
			}
			if outputFormat == "json" {
				out, err := json.Marshal(resp.Event)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			fmt.Printf("%s %s\n", Dim(string(resp.Event.Kind)), resp.Event.SessionID)
			return nil
		})
	},
}
