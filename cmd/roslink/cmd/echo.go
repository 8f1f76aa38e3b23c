package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roslink/roslink/pkg/roslink"
	"github.com/roslink/roslink/pkg/roslink/subutils"
	"github.com/roslink/roslink/pkg/roslink/transform"
)

// echoCmd represents the echo command
var echoCmd = &cobra.Command{
	Use:   "echo <websocket-url> <topic>",
	Short: "Subscribe to a topic and print its messages",
	Long: `Subscribe to a topic on a rosbridge server and print each message to
stdout as one line of JSON.

Examples:
  roslink echo ws://localhost:9090 /chatter
  roslink echo ws://localhost:9090 /odom --throttle-rate 1000
  roslink echo ws://localhost:9090 /camera/image --compression png
  roslink echo ws://localhost:9090 /rosout --jq '.msg'`,
	Args: cobra.ExactArgs(2),
	RunE: runEcho,
}

var (
	echoDialTimeout  time.Duration
	echoType         string
	echoThrottleRate int
	echoQueueLength  int
	echoCompression  string
	echoJq           string
	echoQueueSize    int
)

func init() {
	rootCmd.AddCommand(echoCmd)

	echoCmd.Flags().DurationVar(&echoDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	echoCmd.Flags().StringVarP(&echoType, "type", "t", "", "message type of the topic")
	echoCmd.Flags().IntVar(&echoThrottleRate, "throttle-rate", 0, "minimum interval between messages in milliseconds")
	echoCmd.Flags().IntVar(&echoQueueLength, "queue-length", 0, "server-side subscription queue length")
	echoCmd.Flags().StringVar(&echoCompression, "compression", "none", "subscription compression (none, png)")
	echoCmd.Flags().StringVar(&echoJq, "jq", "", "jq query applied to each message before printing")
	echoCmd.Flags().IntVar(&echoQueueSize, "queue", 100, "local queue size between receipt and printing")
}

func runEcho(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsURL := args[0]
	topicName := args[1]

	ros, err := roslink.NewRos().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(echoDialTimeout).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	ros.OnClose(func(err error) {
		if err != nil {
			logger.Warn("Connection closed", zap.Error(err))
		}
		cancel()
	})
	ros.OnError(func(err error) {
		logger.Warn("Connection error", zap.Error(err))
	})

	var pipeline transform.MessageTransformFunc
	if echoJq != "" {
		pipeline, err = transform.JqTransform(echoJq, logger)
		if err != nil {
			return err
		}
	}

	printer := transform.Handler(topicName, pipeline, func(msg *transform.Message) {
		encoded, err := json.Marshal(msg.Payload)
		if err != nil {
			fmt.Printf("%s\t<error marshaling JSON: %v>\n", msg.Topic, err)
			return
		}
		fmt.Printf("%s\t%s\n", msg.Topic, string(encoded))
	})

	// Decouple printing from the read loop so slow terminals do not
	// back-pressure the connection.
	async := subutils.NewAsyncQueueingHandler(printer, echoQueueSize).Start()
	defer async.Close()

	topic := ros.Topic(topicName, echoType).
		WithCompression(echoCompression).
		WithThrottleRate(echoThrottleRate).
		WithQueueLength(echoQueueLength)

	if err := topic.Subscribe(async.Handle); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	if err := ros.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	logger.Info("Subscribed",
		zap.String("url", wsURL),
		zap.String("topic", topicName),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Debug("Signal received, exiting", zap.String("signal", sig.String()))
		if err := topic.Unsubscribe(); err != nil {
			logger.Warn("Error during unsubscribe", zap.Error(err))
		}
		if err := ros.Close(); err != nil {
			logger.Warn("Error during disconnect", zap.Error(err))
		}
		return nil

	case <-ctx.Done():
		return nil
	}
}
