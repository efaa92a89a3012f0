package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quex-tech/onchain-ai/internal/alert"
	"github.com/quex-tech/onchain-ai/internal/chain"
	"github.com/quex-tech/onchain-ai/internal/chain/evm"
	"github.com/quex-tech/onchain-ai/internal/chain/evm/rpc"
	"github.com/quex-tech/onchain-ai/internal/chain/ratelimit"
	"github.com/quex-tech/onchain-ai/internal/config"
	"github.com/quex-tech/onchain-ai/internal/ingest"
	"github.com/quex-tech/onchain-ai/internal/session"
	"github.com/quex-tech/onchain-ai/internal/transcript"
	"golang.org/x/sync/errgroup"
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting onchain-ai session",
		"rpc_url", cfg.Ledger.RPCURL,
		"contract", cfg.Ledger.ContractAddress,
		"user", cfg.Ledger.UserAddress,
		"conversation_reads", cfg.Session.ConversationReadsEnabled,
		"signer_configured", cfg.Ledger.SignerURL != "",
	)

	client := rpc.NewClient(cfg.Ledger.RPCURL, logger)
	limiter := ratelimit.NewLimiter(cfg.Ledger.RPCRateLimit, cfg.Ledger.RPCRateBurst)
	adapter := evm.NewAdapter(client, cfg.Ledger.ContractAddress, limiter, logger)

	var submitter chain.Submitter
	if cfg.Ledger.SignerURL != "" {
		signer := evm.NewHTTPSigner(cfg.Ledger.SignerURL)
		submitter = evm.NewSubmitter(client, cfg.Ledger.ContractAddress, signer, logger)
	} else {
		logger.Warn("no signer configured, running read-only")
	}

	store := ingest.NewStore()
	ingestor := ingest.NewIngestor(adapter, adapter, store, cfg.Ledger.UserAddress, cfg.Ledger.StartBlock, cfg.Session.PollInterval, logger)

	sess := session.New(cfg.Session, cfg.Request, adapter, submitter, store, ingestor, cfg.Ledger.UserAddress, logger)
	if cfg.Alert.WebhookURL != "" {
		sess.SetAlerter(alert.NewMultiAlerter(cfg.Alert.Cooldown, logger, alert.NewWebhookAlerter(cfg.Alert.WebhookURL)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runMetricsServer(gCtx, cfg.Server.MetricsPort, logger)
	})

	g.Go(func() error {
		return sess.Run(gCtx)
	})

	g.Go(func() error {
		return runREPL(gCtx, sess, logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("session exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("session shut down gracefully")
}

// runREPL reads prompts from stdin and prints the reconciled transcript
// after each interaction. Lines starting with '/' are commands.
func runREPL(ctx context.Context, sess *session.Session, logger *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	printTranscript(sess)
	fmt.Print("> ")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handleLine(ctx, sess, strings.TrimSpace(line), logger)
			fmt.Print("> ")
		}
	}
}

func handleLine(ctx context.Context, sess *session.Session, line string, logger *slog.Logger) {
	switch {
	case line == "":
	case line == "/quit" || line == "/exit":
		os.Exit(0)
	case line == "/transcript":
		printTranscript(sess)
	case line == "/balance":
		bal := sess.DisplayBalance()
		fmt.Printf("subscription active: %v, needs deposit: %v, balance: %s\n",
			sess.HasActiveSubscription(), sess.NeedsDeposit(), transcript.FormatBalance(bal, 18))
	case strings.HasPrefix(line, "/"):
		fmt.Println("commands: /transcript /balance /quit")
	default:
		deposit := big.NewInt(0)
		if sess.NeedsDeposit() {
			// 0.01 native units, the minimum the oracle accepts alongside
			// a first message.
			deposit = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)
		}
		if err := sess.Send(ctx, line, deposit); err != nil {
			logger.Warn("send failed", "error", err)
			if userErr := sess.LastError(); userErr != nil {
				fmt.Printf("error: %s\n", userErr.Message)
			}
			return
		}
		printTranscript(sess)
	}
}

func printTranscript(sess *session.Session) {
	for _, msg := range sess.Transcript() {
		marker := ""
		if msg.Status != "" && msg.Status != "confirmed" {
			marker = fmt.Sprintf(" [%s]", msg.Status)
		}
		tx := ""
		if msg.TxHash != "" {
			tx = fmt.Sprintf(" (tx %s)", transcript.ShortTxHash(msg.TxHash))
		}
		fmt.Printf("%s:%s %s%s\n", msg.Role, marker, msg.Content, tx)
	}
}

func runMetricsServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}()

	logger.Info("metrics server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
