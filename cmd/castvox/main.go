// Command castvox bridges live speech transcription to stream control: scene
// switching on the compositor, chat messages on the relay, synthesized speech
// and language-model answers.
//
// Usage:
//
//	castvox run --config config.yaml
//	castvox rules check commands.json
//	castvox rules try commands.json "be right back"
//	castvox auth --password secret --salt ... --challenge ...
//	castvox version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "castvox:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "castvox",
		Short:         "Voice-driven live-stream console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newRulesCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the castvox version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "castvox", version)
		},
	}
}
