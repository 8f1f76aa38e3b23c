package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roslink/roslink/pkg/roslink"
)

// paramCmd represents the param command and its subcommands
var paramCmd = &cobra.Command{
	Use:   "param",
	Short: "Read and write parameters",
}

var paramGetCmd = &cobra.Command{
	Use:   "get <websocket-url> <name>",
	Short: "Get a parameter value",
	Args:  cobra.ExactArgs(2),
	RunE:  runParamGet,
}

var paramSetCmd = &cobra.Command{
	Use:   "set <websocket-url> <name> <value>",
	Short: "Set a parameter value",
	Long: `Set a parameter. The value is parsed as JSON; a value that does not
parse is stored as a plain string.

Examples:
  roslink param set ws://localhost:9090 /max_speed 2.5
  roslink param set ws://localhost:9090 /robot_name '"r2d2"'`,
	Args: cobra.ExactArgs(3),
	RunE: runParamSet,
}

var paramListCmd = &cobra.Command{
	Use:   "list <websocket-url>",
	Short: "List parameter names",
	Args:  cobra.ExactArgs(1),
	RunE:  runParamList,
}

var (
	paramDialTimeout time.Duration
	paramTimeout     time.Duration
)

func init() {
	rootCmd.AddCommand(paramCmd)
	paramCmd.AddCommand(paramGetCmd)
	paramCmd.AddCommand(paramSetCmd)
	paramCmd.AddCommand(paramListCmd)

	paramCmd.PersistentFlags().DurationVar(&paramDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	paramCmd.PersistentFlags().DurationVar(&paramTimeout, "timeout", 30*time.Second, "parameter operation timeout")
}

func paramConnect(ctx context.Context, wsURL string, logger *zap.Logger) (*roslink.Ros, error) {
	ros, err := roslink.NewRos().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(paramDialTimeout).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	if err := ros.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return ros, nil
}

func runParamGet(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ros, err := paramConnect(ctx, args[0], logger)
	if err != nil {
		return err
	}
	defer ros.Close()

	done := make(chan error, 1)
	err = ros.Param(args[1]).GetWithTimeout(paramTimeout, func(value any, getErr error) {
		if getErr != nil {
			done <- getErr
			return
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			done <- err
			return
		}
		fmt.Println(string(encoded))
		done <- nil
	})
	if err != nil {
		return fmt.Errorf("failed to get parameter: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runParamSet(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ros, err := paramConnect(ctx, args[0], logger)
	if err != nil {
		return err
	}
	defer ros.Close()

	var value any
	if err := json.Unmarshal([]byte(args[2]), &value); err != nil {
		value = args[2]
	}

	if err := ros.Param(args[1]).Set(value); err != nil {
		return fmt.Errorf("failed to set parameter: %w", err)
	}

	logger.Info("Parameter set", zap.String("name", args[1]))

	// Setting fires and forgets; give the write loop time to flush.
	time.Sleep(time.Second)
	return nil
}

func runParamList(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ros, err := paramConnect(ctx, args[0], logger)
	if err != nil {
		return err
	}
	defer ros.Close()

	done := make(chan error, 1)
	err = ros.ParamNames(func(names []string, listErr error) {
		if listErr != nil {
			done <- listErr
			return
		}
		for _, name := range names {
			fmt.Println(name)
		}
		done <- nil
	})
	if err != nil {
		return fmt.Errorf("failed to list parameters: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(paramTimeout):
		return roslink.ErrCallTimeout
	}
}
