// Package main is the snipbox convenience client.
//
// The client turns a selector into snippet text and sends it to the server as
// one UDP datagram. It never waits for a reply; results only show up in the
// server's audit log.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/isdmx/snipbox/snippet"
)

var (
	extraFlag   string
	hostFlag    string
	portFlag    int
	delayFlag   time.Duration
	presetsFlag string
)

var rootCmd = &cobra.Command{
	Use:   "snipbox-client <selector>",
	Short: "Send a code snippet to a snipbox server",
	Long: `Send a code snippet to a snipbox server over UDP.

The selector is resolved in order:
  a preset name (hello, loop, sum10, bad, while, or one from --presets)
  code:<text>   sends <text> verbatim
  any text with --extra builds print("<selector>" + " " + "<extra>")
  anything else is sent as-is

Examples:
  snipbox-client hello
  snipbox-client 'code:print(sum(range(5)))'
  snipbox-client greet --extra world --delay 200ms`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.Flags().StringVar(&extraFlag, "extra", "", "Extra string used by the print template")
	rootCmd.Flags().StringVar(&hostFlag, "host", "127.0.0.1", "Server host")
	rootCmd.Flags().IntVar(&portFlag, "port", 9999, "Server port")
	rootCmd.Flags().DurationVar(&delayFlag, "delay", 0, "Wait this long before sending")
	rootCmd.Flags().StringVar(&presetsFlag, "presets", "", "YAML file with extra presets (name: code)")
}

func runSend(cmd *cobra.Command, args []string) error {
	presets := snippet.DefaultPresets()
	if presetsFlag != "" {
		loaded, err := snippet.LoadPresets(presetsFlag)
		if err != nil {
			return err
		}
		presets = loaded
	}

	code := snippet.NewBuilder(presets).Build(args[0], extraFlag)

	ctx := cmd.Context()
	if delayFlag > 0 {
		select {
		case <-time.After(delayFlag):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	addr := net.JoinHostPort(hostFlag, strconv.Itoa(portFlag))
	if err := snippet.Send(ctx, addr, code); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s: %s\n", addr, code)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
