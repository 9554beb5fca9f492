// Command forcectl is the Force Engine's offline control CLI: it builds an
// Engine against a component root without opening a transport, runs one
// operation, prints its JSON result, and exits. Useful in CI and for local
// corpus maintenance without standing up the MCP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/force-engine/force/internal/config"
	"github.com/force-engine/force/internal/logging"
	"github.com/force-engine/force/internal/mcpserver"
)

var (
	root  string
	debug bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forcectl",
		Short: "Inspect and maintain a Force Engine component corpus",
	}
	rootCmd.PersistentFlags().StringVar(&root, "root", ".", "component root directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(validateCmd(), fixCmd(), syncCmd(), reloadCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "forcectl: %v\n", err)
		os.Exit(1)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the corpus and print its quarantine report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *mcpserver.Engine) (interface{}, error) {
				return callMethod(ctx, e, mcpserver.MethodValidateComponents, nil)
			})
		},
	}
}

func fixCmd() *cobra.Command {
	var dryRun bool
	c := &cobra.Command{
		Use:   "fix",
		Short: "Run the Auto-Fixer over every component file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *mcpserver.Engine) (interface{}, error) {
				return callMethod(ctx, e, mcpserver.MethodFixComponents, map[string]interface{}{"dryRun": dryRun})
			})
		},
	}
	c.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	return c
}

func syncCmd() *cobra.Command {
	var direction string
	c := &cobra.Command{
		Use:   "sync",
		Short: "Split aggregate files apart or merge standalone files together",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *mcpserver.Engine) (interface{}, error) {
				return callMethod(ctx, e, mcpserver.MethodSync, map[string]interface{}{"direction": direction})
			})
		},
	}
	c.Flags().StringVar(&direction, "direction", "split", "split or merge")
	return c
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the corpus and print the resulting quarantine count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *mcpserver.Engine) (interface{}, error) {
				return callMethod(ctx, e, mcpserver.MethodReload, nil)
			})
		},
	}
}

// callMethod drives an Engine method the same way a transport would: through
// Dispatch, so forcectl never special-cases an unexported handler signature.
func callMethod(ctx context.Context, e *mcpserver.Engine, method string, params map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	result, rpcErr := e.Dispatch(ctx, &mcpserver.Request{JSONRPC: "2.0", Method: method, Params: raw})
	if rpcErr != nil {
		return nil, fmt.Errorf("%s: %s", method, rpcErr.Message)
	}
	return result, nil
}

func withEngine(ctx context.Context, fn func(context.Context, *mcpserver.Engine) (interface{}, error)) error {
	logger := logging.NewJSONLogger(os.Stderr, debug)
	cfg, err := config.New("", config.WithRoot(root), config.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	engine, err := mcpserver.New(ctx, cfg)
	if err != nil {
		if se, ok := err.(*mcpserver.StartupError); ok {
			fmt.Fprintf(os.Stderr, "forcectl: startup: %v\n", se)
			os.Exit(int(se.Code))
		}
		return err
	}

	result, err := fn(ctx, engine)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
