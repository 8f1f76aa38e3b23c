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

// callCmd represents the call command
var callCmd = &cobra.Command{
	Use:   "call <websocket-url> <service> <type> [request]",
	Short: "Call a service and print the response",
	Long: `Call a service on a rosbridge server and print the response values as
JSON. The request, if given, is a JSON object whose fields become the
service arguments.

Examples:
  roslink call ws://localhost:9090 /rosapi/get_time rosapi/GetTime
  roslink call ws://localhost:9090 /add_two_ints rospy_tutorials/AddTwoInts '{"a":1,"b":2}'`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runCall,
}

var (
	callDialTimeout time.Duration
	callTimeout     time.Duration
)

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.Flags().DurationVar(&callDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "service response timeout")
}

func runCall(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	wsURL := args[0]
	serviceName := args[1]
	serviceType := args[2]

	var request map[string]any
	if len(args) == 4 {
		if err := json.Unmarshal([]byte(args[3]), &request); err != nil {
			return fmt.Errorf("request is not a valid JSON object: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ros, err := roslink.NewRos().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(callDialTimeout).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if err := ros.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if closeErr := ros.Close(); closeErr != nil {
			logger.Warn("Error during disconnect", zap.Error(closeErr))
		}
	}()

	done := make(chan error, 1)
	svc := ros.Service(serviceName, serviceType)
	err = svc.CallWithTimeout(request, callTimeout, func(values json.RawMessage, callErr error) {
		if callErr != nil {
			done <- callErr
			return
		}
		if len(values) == 0 {
			fmt.Println("{}")
		} else {
			fmt.Println(string(values))
		}
		done <- nil
	})
	if err != nil {
		return fmt.Errorf("failed to call service: %w", err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
