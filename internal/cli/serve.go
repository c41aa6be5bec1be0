package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/extract"
	"github.com/memvra/memory-agent/internal/listener"
	"github.com/memvra/memory-agent/internal/server"
)

const shutdownTimeout = 60 * time.Second

// listenerFlags override the configured listener settings.
type listenerFlags struct {
	pollInterval time.Duration
	sessions     []string
}

func addListenerFlags(cmd *cobra.Command, lf *listenerFlags) {
	cmd.Flags().DurationVar(&lf.pollInterval, "poll-interval", 0, "gateway poll interval (default from config)")
	cmd.Flags().StringSliceVar(&lf.sessions, "sessions", nil, "only listen to these conversations")
}

// listener builds a ConversationListener feeding proc.
func (a *app) listener(proc listener.Processor, lf listenerFlags) (*listener.Listener, error) {
	lc := a.cfg.Listener

	token := a.cfg.Keys.GatewayToken
	if token == "" {
		home, _ := os.UserHomeDir()
		t, err := listener.LoadToken(home)
		if err != nil {
			return nil, err
		}
		token = t
	}

	cfg := listener.DefaultConfig()
	cfg.PollInterval = lc.PollInterval.Duration
	cfg.BufferSize = lc.BufferSize
	cfg.FlushAge = lc.FlushAge.Duration
	cfg.Sessions = lc.Sessions
	cfg.Workers = lc.Workers
	cfg.StatePath = a.cfg.StatePath()
	if lf.pollInterval > 0 {
		cfg.PollInterval = lf.pollInterval
	}
	if len(lf.sessions) > 0 {
		cfg.Sessions = lf.sessions
	}

	gw := listener.NewHTTPGateway(lc.GatewayURL, token, 30*time.Second)
	return listener.New(gw, proc, cfg, listener.WithLogger(componentLogger("listener")))
}

func newServeCmd() *cobra.Command {
	var (
		addr         string
		withPipeline bool
		listen       bool
		pf           pipelineFlags
		lf           listenerFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the memory store over HTTP.

With --with-pipeline the /ingest endpoint runs conversation text through the
gate and extract models. With --listen the gateway listener runs alongside the
server and feeds the same pipeline.

Examples:
  memory-agent serve
  memory-agent serve --with-pipeline --gate-backend local --extract-backend anthropic
  memory-agent serve --listen --sessions main,work --poll-interval 15s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			opts := []server.Option{
				server.WithLogger(componentLogger("server")),
				server.WithTokenCounter(a.counter),
			}

			var pipe *extract.Pipeline
			if withPipeline || listen {
				if pipe, err = a.pipeline(pf); err != nil {
					return err
				}
				opts = append(opts, server.WithPipeline(pipe))
			}

			var lst *listener.Listener
			if listen {
				if lst, err = a.listener(pipe, lf); err != nil {
					return err
				}
				opts = append(opts, server.WithListener(lst))
				lst.Start(context.Background())
			}

			srv := server.New(a.store, opts...)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Listen(addr) }()

			logger.Info("serving", "addr", addr, "index", a.store.Backend(), "pipeline", pipe != nil, "listener", lst != nil)

			var serveErr error
			select {
			case serveErr = <-errCh:
			case <-ctx.Done():
				logger.Info("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if lst != nil {
				lst.Stop(shutdownCtx)
			}
			if serveErr != nil {
				return fmt.Errorf("serve: %w", serveErr)
			}
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 0.0.0.0:8094)")
	cmd.Flags().BoolVar(&withPipeline, "with-pipeline", false, "enable /ingest through the extraction pipeline")
	cmd.Flags().BoolVar(&listen, "listen", false, "run the gateway listener (implies --with-pipeline)")
	addPipelineFlags(cmd, &pf)
	addListenerFlags(cmd, &lf)

	return cmd
}

func newListenCmd() *cobra.Command {
	var (
		pf pipelineFlags
		lf listenerFlags
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run the gateway listener in the foreground",
		Long: `Poll the chat gateway for new messages, buffer them per conversation and
ingest each buffer through the extraction pipeline when it is large or old
enough. Only messages that arrive after the first start are processed.

Press Ctrl-C to stop; remaining buffers are flushed before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pipe, err := a.pipeline(pf)
			if err != nil {
				return err
			}
			lst, err := a.listener(pipe, lf)
			if err != nil {
				return err
			}

			lst.Start(context.Background())
			fmt.Println("Listening for conversations. Press Ctrl-C to stop.")
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			lst.Stop(shutdownCtx)

			st := lst.Stats()
			ps := pipe.Stats()
			fmt.Printf("\nPolls: %d  Messages: %d  Flushed: %d  Stored: %d  Errors: %d\n",
				st.Polls, st.MessagesReceived, st.ChunksFlushed, ps.MemoriesStored, st.Errors+ps.Errors)
			return nil
		},
	}

	addPipelineFlags(cmd, &pf)
	addListenerFlags(cmd, &lf)
	return cmd
}
