package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <flow-file>",
	Short: "Export the flow graph visualization",
	Long:  `Compiles a flow and outputs a Mermaid diagram (graph TD) representing its nodes and transitions.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFile, _ := cmd.Flags().GetString("session")
		return runGraph(cmd.OutOrStdout(), args[0], sessionFile)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Session JSON file whose position is highlighted")
}

func runGraph(w io.Writer, flowFile, sessionFile string) error {
	flow, err := tendril.LoadFlowFile(flowFile)
	if err != nil {
		return err
	}

	var overlay *graph.GraphOverlay
	if sessionFile != "" {
		data, err := os.ReadFile(sessionFile)
		if err != nil {
			return err
		}
		var sess domain.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return fmt.Errorf("invalid session file: %w", err)
		}
		overlay = graph.OverlayFor(&sess)
	}

	_, err = fmt.Fprint(w, graph.GenerateMermaid(flow, overlay))
	return err
}
