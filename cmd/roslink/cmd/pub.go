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

// pubCmd represents the pub command
var pubCmd = &cobra.Command{
	Use:   "pub <websocket-url> <topic> <type> <message>",
	Short: "Publish a message to a topic",
	Long: `Publish one JSON message to a topic on a rosbridge server. The topic
is advertised with the given message type before publishing.

Examples:
  roslink pub ws://localhost:9090 /chatter std_msgs/String '{"data":"hello"}'
  roslink pub ws://localhost:9090 /cmd_vel geometry_msgs/Twist '{"linear":{"x":0.5}}' --latch`,
	Args: cobra.ExactArgs(4),
	RunE: runPub,
}

var (
	pubDialTimeout time.Duration
	pubSettle      time.Duration
	pubLatch       bool
	pubQueueSize   int
)

func init() {
	rootCmd.AddCommand(pubCmd)

	pubCmd.Flags().DurationVar(&pubDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	pubCmd.Flags().DurationVar(&pubSettle, "settle", time.Second, "time to hold the connection open after publishing")
	pubCmd.Flags().BoolVar(&pubLatch, "latch", false, "latch the published message")
	pubCmd.Flags().IntVar(&pubQueueSize, "queue-size", 100, "server-side publish queue size")
}

func runPub(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	wsURL := args[0]
	topicName := args[1]
	messageType := args[2]
	messageStr := args[3]

	var message any
	if err := json.Unmarshal([]byte(messageStr), &message); err != nil {
		return fmt.Errorf("message is not valid JSON: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ros, err := roslink.NewRos().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(pubDialTimeout).
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

	topic := ros.Topic(topicName, messageType).
		WithLatch(pubLatch).
		WithQueueSize(pubQueueSize)

	if err := topic.Publish(message); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	logger.Info("Message published",
		zap.String("topic", topicName),
		zap.String("type", messageType),
	)

	// The write loop is asynchronous; give the frames time to leave
	// before tearing the connection down.
	time.Sleep(pubSettle)

	return nil
}
