package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Build, spawn, and connect the on-device agent",
}

var (
	agentProjectDir string
	agentRebuild    bool
)

var agentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Build (if needed), spawn, and connect to the agent on the current device",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := ipcserver.Request{Type: ipcserver.ReqStartAgent, Rebuild: agentRebuild}
		if agentProjectDir != "" {
			req.ProjectDir = &agentProjectDir
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

var agentRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Terminate the current agent, then start (optionally rebuilding) a fresh one",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := client.Do(ipcserver.Request{Type: ipcserver.ReqStopAgent}); err != nil {
			return err
		}
		req := ipcserver.Request{Type: ipcserver.ReqStartAgent, Rebuild: agentRebuild}
		if agentProjectDir != "" {
			req.ProjectDir = &agentProjectDir
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

var agentStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Terminate the owned agent process, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqStopAgent})
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

var agentConnectCmd = &cobra.Command{
	Use:   "connect <host> <port>",
	Short: "Connect directly to an already-running agent, bypassing lifecycle management",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqConnect, Host: args[0], Port: port})
		if err != nil {
			return err
		}
		return printCommandResult(resp.Success, resp.Message)
	},
}

func init() {
	agentStartCmd.Flags().StringVar(&agentProjectDir, "project-dir", "", "Xcode project directory to build, overriding the daemon default")
	agentStartCmd.Flags().BoolVar(&agentRebuild, "rebuild", false, "Force a fresh build even if a prior artifact is present")
	agentRestartCmd.Flags().StringVar(&agentProjectDir, "project-dir", "", "Xcode project directory to build, overriding the daemon default")
	agentRestartCmd.Flags().BoolVar(&agentRebuild, "rebuild", false, "Force a fresh build even if a prior artifact is present")
	agentCmd.AddCommand(agentStartCmd, agentStopCmd, agentRestartCmd, agentConnectCmd)
}
