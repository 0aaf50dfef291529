package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecocart/relay-go/compression"
	"github.com/ecocart/relay-go/contracts"
	"github.com/ecocart/relay-go/encryption"
	"github.com/ecocart/relay-go/monitor"
	"github.com/ecocart/relay-go/pipeline"
	"github.com/ecocart/relay-go/queue"
	"github.com/ecocart/relay-go/storage"
	"github.com/ecocart/relay-go/transports/websocket"
	"github.com/ecocart/relay-go/validation"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "relayctl",
		Short:   "Send and drain messages through the relay delivery pipeline",
		Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
	}

	var (
		url       string
		statePath string
		password  string
		verbose   bool
	)

	rootCmd.PersistentFlags().StringVarP(&url, "url", "u", "ws://localhost:8080/ws", "WebSocket endpoint URL")
	rootCmd.PersistentFlags().StringVarP(&statePath, "state", "s", "relay-queue.json", "Path of the queue checkpoint file")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Encryption password (empty disables encryption)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	var (
		msgType  string
		payload  string
		priority string
	)

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Validate, compress, encrypt, and enqueue a message, then drain the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			p, cleanup, err := buildPipeline(ctx, url, statePath, password, verbose)
			if err != nil {
				return err
			}
			defer cleanup()

			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload must be valid JSON")
			}
			prio, err := contracts.ParsePriority(priority)
			if err != nil {
				return err
			}

			env := contracts.NewEnvelope(msgType, json.RawMessage(payload))
			if err := p.Send(ctx, env, pipeline.WithPriority(prio)); err != nil {
				return err
			}
			if err := p.ProcessQueue(ctx); err != nil {
				return err
			}

			fmt.Printf("sent %s (%s)\n", env.ID, msgType)
			return nil
		},
	}
	sendCmd.Flags().StringVarP(&msgType, "type", "t", "", "Message type (required)")
	sendCmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	sendCmd.Flags().StringVar(&priority, "priority", "medium", "Priority: low, medium, or high")
	sendCmd.MarkFlagRequired("type")

	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Deliver messages left in the queue checkpoint from a previous run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			p, cleanup, err := buildPipeline(ctx, url, statePath, password, verbose)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := p.ProcessQueue(ctx); err != nil {
				return err
			}
			fmt.Println("queue drained")
			return nil
		},
	}

	var keyLength int
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random key for out-of-band exchange",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := encryption.NewEncryptor().GenerateKey(keyLength)
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
	keygenCmd.Flags().IntVarP(&keyLength, "length", "l", 32, "Key length in bytes")

	rootCmd.AddCommand(sendCmd, drainCmd, keygenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildPipeline assembles the delivery pipeline over a file-backed queue
// and a websocket transport.
func buildPipeline(ctx context.Context, url, statePath, password string, verbose bool) (*pipeline.Pipeline, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	mon := monitor.NewSlogMonitor(logger)

	validator := validation.NewValidator()
	compressor := compression.NewCompressor(compression.WithMonitor(mon))

	encryptor := encryption.NewEncryptor(
		encryption.WithMonitor(mon),
		encryption.WithEnabled(password != ""),
	)
	if password != "" {
		if err := encryptor.Initialize(password, nil); err != nil {
			return nil, nil, err
		}
	}

	q := queue.NewQueue(
		queue.DefaultConfig(),
		queue.WithStore(storage.NewFileStore(statePath)),
		queue.WithMonitor(mon),
		queue.WithLogger(logger),
	)
	if err := q.Load(ctx); err != nil {
		return nil, nil, err
	}

	transport, err := websocket.Dial(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	p := pipeline.NewPipeline(
		validator, compressor, encryptor, q, transport,
		pipeline.WithLogger(logger),
		pipeline.WithMonitor(mon),
	)

	cleanup := func() {
		transport.Close()
	}
	return p, cleanup, nil
}
