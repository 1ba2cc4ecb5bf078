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

	"github.com/playforge/gamelink/pkg/gamelink"
	"github.com/playforge/gamelink/pkg/gamelink/otel"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <websocket-url> [topics...]",
	Short: "Subscribe to topics on a game server and print routed payloads",
	Long: `Watch connects to a game server, subscribes to the given topics, and
prints every routed payload to stdout. The connection is kept alive across
network loss and server-initiated closures; subscriptions are resynchronized
automatically after every reconnect.

If no topics are given, subscribes to "invites" and "game".

Examples:
  gamelink watch wss://example.org/socket
  gamelink watch wss://example.org/socket game`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

var (
	dialTimeout time.Duration
	authToken   string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	watchCmd.Flags().StringVar(&authToken, "auth", "", "Authorization header value for the handshake")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsURL := args[0]
	topics := args[1:]
	if len(topics) == 0 {
		topics = []string{string(gamelink.TopicInvites), string(gamelink.TopicGame)}
	}

	logger.Info("Starting watch",
		zap.String("url", wsURL),
		zap.Strings("topics", topics),
		zap.Duration("dial-timeout", dialTimeout),
	)

	builder := gamelink.NewSession().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(dialTimeout).
		WithNotifier(gamelink.NewLoggingNotifier(logger)).
		WithMetricsProvider(otel.NewProvider("gamelink", "dev"))
	if authToken != "" {
		builder = builder.WithHeader("Authorization", authToken)
	}
	for _, topic := range topics {
		builder = builder.WithTopicHandler(gamelink.Topic(topic), &printingHandler{
			topic:  topic,
			logger: logger,
		})
	}

	session, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to build session: %w", err)
	}

	for _, topic := range topics {
		session.Subscribe(gamelink.Topic(topic))
	}

	if !session.ResubscribeAll(ctx) {
		logger.Fatal("Failed to connect to server", zap.String("url", wsURL))
	}
	logger.Info("Connected", zap.String("url", wsURL))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Watching for payloads... (Press Ctrl+C to exit)")

	select {
	case sig := <-sigChan:
		logger.Debug("Signal received, exiting", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down...")
	}

	session.Disconnect()
	logger.Info("Shutdown complete")
	return nil
}

// printingHandler prints every routed payload for one topic to stdout.
type printingHandler struct {
	gamelink.BaseTopicHandler
	topic  string
	logger *zap.Logger
}

func (h *printingHandler) OnMessage(ctx context.Context, action string, value json.RawMessage) error {
	fmt.Printf("%s\t%s\t%s\n", h.topic, action, string(value))
	return nil
}

func (h *printingHandler) Resync(ctx context.Context) error {
	h.logger.Info("Resynchronizing topic", zap.String("topic", h.topic))
	return nil
}
