package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/adapters/memory"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var chatCmd = &cobra.Command{
	Use:   "chat <flow-file>",
	Short: "Chat with a flow locally",
	Long: `Runs a flow in memory and reads one message per line from stdin.
Type 'quit' to leave. Replies are rendered as markdown on a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		headless, _ := cmd.Flags().GetBool("headless")
		configFile, _ := cmd.Flags().GetString("tenant-config")
		phone, _ := cmd.Flags().GetString("phone")

		flow, err := tendril.LoadFlowFile(args[0])
		if err != nil {
			return err
		}

		opts := []tendril.Option{
			tendril.WithFlows(flow),
			tendril.WithLogger(logger),
			tendril.WithMaxStepsPerTick(cfg.Engine.MaxStepsPerTick),
			tendril.WithSessionTTL(cfg.Engine.SessionTTL),
		}
		if configFile != "" {
			values, err := readTenantConfig(configFile)
			if err != nil {
				return err
			}
			opts = append(opts, tendril.WithConfigProvider(memory.NewConfigStore(map[string]map[string]any{
				flow.TenantID: values,
			})))
		}
		eng, err := tendril.New(opts...)
		if err != nil {
			return err
		}

		runner := tendril.NewRunner(flow.TenantID)
		runner.Input = cmd.InOrStdin()
		runner.Output = cmd.OutOrStdout()
		runner.Headless = headless
		if phone != "" {
			runner.Phone = phone
		}
		if !headless && tui.IsInteractive() {
			tui.PrintBanner(cmd.OutOrStdout(), strings.TrimSpace(tendril.Version))
			runner.Renderer = tui.NewRenderer()
		}
		return runner.Run(cmd.Context(), eng)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Bool("headless", false, "Plain output without banner or prompts")
	chatCmd.Flags().String("tenant-config", "", "YAML file exposed to the flow as config.*")
	chatCmd.Flags().String("phone", "", "Phone number of the simulated user")
}

func readTenantConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("invalid tenant config %s: %w", path, err)
	}
	return values, nil
}
