package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qorvex/qorvex-host/internal/action"
	"github.com/qorvex/qorvex-host/internal/element"
	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute an action against the installed driver",
}

func selectorFromFlags(value string, byLabel bool, elementType string) element.Selector {
	sel := element.Selector{Value: value, ByLabel: byLabel}
	if elementType != "" {
		sel.ElementType = &elementType
	}
	return sel
}

func runExecute(act action.Action) error {
	resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqExecute, Action: act})
	if err != nil {
		return err
	}
	return printActionResult(resp)
}

func printActionResult(resp ipcserver.Response) error {
	if outputFormat == "json" {
		return printJSON(resp)
	}
	if !resp.Success {
		fmt.Printf("%s %s\n", Red("✗"), resp.Message)
		return fmt.Errorf("action failed: %s", resp.Message)
	}
	if resp.Message != "" {
		fmt.Printf("%s %s\n", Green("✓"), resp.Message)
	} else {
		fmt.Printf("%s\n", Green("✓"))
	}
	if resp.Data != nil {
		fmt.Println(*resp.Data)
	}
	if len(resp.Screenshot) > 0 {
		fmt.Printf("%s %d bytes (%s)\n", Dim("screenshot:"), len(resp.Screenshot), Dim("base64 with --output json"))
	}
	return nil
}

var (
	execSelector    string
	execByLabel     bool
	execElementType string
	execTimeoutMs   uint64
	execRequireStable bool
)

func addSelectorFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&execSelector, "selector", "", "element identifier or label to match")
	cmd.Flags().BoolVar(&execByLabel, "by-label", false, "match against label instead of identifier")
	cmd.Flags().StringVar(&execElementType, "type", "", "restrict the match to this element type")
	cmd.Flags().Uint64Var(&execTimeoutMs, "timeout-ms", 0, "per-action timeout override in ms, 0 sends no override")
}

func timeoutPtr() *uint64 {
	if execTimeoutMs == 0 {
		return nil
	}
	return &execTimeoutMs
}

var execTapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Tap the element matching --selector",
	RunE: func(cmd *cobra.Command, args []string) error {
		sel := selectorFromFlags(execSelector, execByLabel, execElementType)
		return runExecute(action.Tap(sel, timeoutPtr()))
	},
}

var execTapLocationCmd = &cobra.Command{
	Use:   "tap-location <x> <y>",
	Short: "Tap a screen coordinate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var x, y int32
		if _, err := fmt.Sscanf(args[0], "%d", &x); err != nil {
			return fmt.Errorf("invalid x: %w", err)
		}
		if _, err := fmt.Sscanf(args[1], "%d", &y); err != nil {
			return fmt.Errorf("invalid y: %w", err)
		}
		return runExecute(action.TapLocation(x, y))
	},
}

var (
	execSwipeDuration float64
	execSwipeHasDuration bool
)

var execSwipeCmd = &cobra.Command{
	Use:   "swipe <startX> <startY> <endX> <endY>",
	Short: "Swipe between two screen coordinates",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sx, sy, ex, ey int32
		for i, dst := range []*int32{&sx, &sy, &ex, &ey} {
			if _, err := fmt.Sscanf(args[i], "%d", dst); err != nil {
				return fmt.Errorf("invalid coordinate %q: %w", args[i], err)
			}
		}
		var dur *float64
		if execSwipeHasDuration {
			dur = &execSwipeDuration
		}
		return runExecute(action.Swipe(sx, sy, ex, ey, dur))
	},
}

var execLongPressCmd = &cobra.Command{
	Use:   "long-press <x> <y> <duration-seconds>",
	Short: "Long-press a screen coordinate",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var x, y int32
		var dur float64
		if _, err := fmt.Sscanf(args[0], "%d", &x); err != nil {
			return fmt.Errorf("invalid x: %w", err)
		}
		if _, err := fmt.Sscanf(args[1], "%d", &y); err != nil {
			return fmt.Errorf("invalid y: %w", err)
		}
		if _, err := fmt.Sscanf(args[2], "%f", &dur); err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		return runExecute(action.LongPress(x, y, dur))
	},
}

var execSendKeysCmd = &cobra.Command{
	Use:   "send-keys <text>",
	Short: "Send a text string to the focused element",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExecute(action.SendKeys(args[0]))
	},
}

var execGetValueCmd = &cobra.Command{
	Use:   "get-value",
	Short: "Read the value of the element matching --selector",
	RunE: func(cmd *cobra.Command, args []string) error {
		sel := selectorFromFlags(execSelector, execByLabel, execElementType)
		return runExecute(action.GetValue(sel, timeoutPtr()))
	},
}

var execWaitForCmd = &cobra.Command{
	Use:   "wait-for",
	Short: "Wait until the element matching --selector appears",
	RunE: func(cmd *cobra.Command, args []string) error {
		sel := selectorFromFlags(execSelector, execByLabel, execElementType)
		ms := execTimeoutMs
		if ms == 0 {
			ms = 5000
		}
		return runExecute(action.WaitFor(sel, ms, execRequireStable))
	},
}

var execWaitForNotCmd = &cobra.Command{
	Use:   "wait-for-not",
	Short: "Wait until the element matching --selector disappears",
	RunE: func(cmd *cobra.Command, args []string) error {
		sel := selectorFromFlags(execSelector, execByLabel, execElementType)
		ms := execTimeoutMs
		if ms == 0 {
			ms = 5000
		}
		return runExecute(action.WaitForNot(sel, ms))
	},
}

var execLogCommentCmd = &cobra.Command{
	Use:   "log-comment <text>",
	Short: "Append a comment-only entry to the session's action log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExecute(action.LogComment(args[0]))
	},
}

var getStateCmd = &cobra.Command{
	Use:   "get-state",
	Short: "Show the session id and latest screenshot size",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqGetState})
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			out := map[string]any{"session_id": resp.SessionID}
			if len(resp.Screenshot) > 0 {
				out["screenshot_base64"] = base64.StdEncoding.EncodeToString(resp.Screenshot)
			}
			return printJSON(out)
		}
		fmt.Printf("Session:    %s\n", resp.SessionID)
		fmt.Printf("Screenshot: %d bytes\n", len(resp.Screenshot))
		return nil
	},
}

var getLogCmd = &cobra.Command{
	Use:   "get-log",
	Short: "List the in-memory action log",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client.Do(ipcserver.Request{Type: ipcserver.ReqGetLog})
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(resp.Entries)
		}
		rows := make([][]string, 0, len(resp.Entries))
		for _, e := range resp.Entries {
			rows = append(rows, []string{
				fmt.Sprintf("%d", e.ID),
				string(e.Action.Kind),
				formatBool(e.Success),
				fmt.Sprintf("%dms", e.DurationMs),
			})
		}
		printTable([]string{"ID", "KIND", "OK", "DURATION"}, rows)
		return nil
	},
}

func init() {
	addSelectorFlags(execTapCmd)
	addSelectorFlags(execGetValueCmd)
	addSelectorFlags(execWaitForCmd)
	execWaitForCmd.Flags().BoolVar(&execRequireStable, "require-stable", false, "require the frame to be unchanged across consecutive polls")
	addSelectorFlags(execWaitForNotCmd)
	execSwipeCmd.Flags().Float64Var(&execSwipeDuration, "duration", 0, "swipe duration in seconds")
	execSwipeCmd.Flags().BoolVar(&execSwipeHasDuration, "has-duration", false, "set to use --duration instead of the agent's default")

	execCmd.AddCommand(execTapCmd, execTapLocationCmd, execSwipeCmd, execLongPressCmd,
		execSendKeysCmd, execGetValueCmd, execWaitForCmd, execWaitForNotCmd, execLogCommentCmd)
}
