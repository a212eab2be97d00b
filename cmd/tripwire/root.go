// Command tripwire hosts the kill-switch decision pipeline outside of a test harness: it
// can replay a JSONL AgentEvent fixture through a single Pipeline for deterministic
// debugging, or serve a demo multi-session runner with Prometheus metrics exposed for
// scraping. Neither subcommand is part of the core; both are thin hosts wired the way
// tim-coutinho-agentops's `ao` CLI wires cobra commands around a shared root.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tripwire",
	Short: "Run the behavioral kill-switch decision pipeline",
	Long: `tripwire hosts the ActivityClassifier -> IntentCore -> SafetyGate -> Pipeline
decision loop for autonomous agent sessions.

Commands:
  replay   Replay a JSONL AgentEvent fixture through one Pipeline and print the
           resulting fingerprint and per-event decisions.
  serve    Host multiple concurrent sessions, each backed by its own Pipeline, and
           expose Prometheus metrics for scraping.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file overriding pipeline defaults")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
