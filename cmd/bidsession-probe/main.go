// Command bidsession-probe drives a full session lifecycle against a live
// backend: login (with interactive second factor if demanded), keep-alive
// polling, push invalidation, and logout. It is a diagnostic tool for
// verifying a storefront backend's session endpoints.
//
// Configuration comes from flags, the environment, or a .env file:
//
//	BIDSESSION_API_URL    base URL of the auth REST API
//	BIDSESSION_CABLE_URL  websocket URL of the push endpoint (optional)
//	BIDSESSION_EMAIL      account email
//	BIDSESSION_PASSWORD   account password
//	BIDSESSION_STATE_DIR  snapshot directory (default: .bidsession-probe)
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	bidsession "github.com/lotline/bidsession"
	"github.com/lotline/bidsession/cable"
	"github.com/lotline/bidsession/restapi"
	"github.com/lotline/bidsession/snapshot"
)

func main() {
	var (
		apiURL   = flag.String("api-url", "", "auth api base url (env BIDSESSION_API_URL)")
		cableURL = flag.String("cable-url", "", "push websocket url (env BIDSESSION_CABLE_URL)")
		email    = flag.String("email", "", "account email (env BIDSESSION_EMAIL)")
		password = flag.String("password", "", "account password (env BIDSESSION_PASSWORD)")
		stateDir = flag.String("state-dir", "", "snapshot directory (env BIDSESSION_STATE_DIR)")
		interval = flag.Duration("poll-interval", 60*time.Second, "keep-alive poll interval")
		duration = flag.Duration("duration", 5*time.Minute, "how long to hold the session before logout")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	// Missing .env is fine; flags and the real environment still apply.
	_ = godotenv.Load()

	fromEnv(apiURL, "BIDSESSION_API_URL")
	fromEnv(cableURL, "BIDSESSION_CABLE_URL")
	fromEnv(email, "BIDSESSION_EMAIL")
	fromEnv(password, "BIDSESSION_PASSWORD")
	fromEnv(stateDir, "BIDSESSION_STATE_DIR")
	if *stateDir == "" {
		*stateDir = ".bidsession-probe"
	}

	if *apiURL == "" || *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "api-url, email, and password are required")
		os.Exit(2)
	}

	logger := buildLogger(*verbose)
	defer logger.Sync()

	api, err := restapi.NewClient(*apiURL, restapi.WithLogger(logger))
	if err != nil {
		logger.Fatal("building api client failed", zap.Error(err))
	}

	store, err := snapshot.NewFileStore(*stateDir)
	if err != nil {
		logger.Fatal("opening state dir failed", zap.Error(err))
	}

	builder := bidsession.New().
		WithPollInterval(*interval).
		WithAPI(api).
		WithStore(store).
		WithLogger(logger).
		WithLatencyHistograms(true)
	if *cableURL != "" {
		builder = builder.WithPushChannel(cable.NewClient(*cableURL, cable.WithLogger(logger)))
	}

	manager, err := builder.Build()
	if err != nil {
		logger.Fatal("building session manager failed", zap.Error(err))
	}
	defer manager.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		logger.Fatal("start failed", zap.Error(err))
	}

	session := manager.Current()
	if session.SignedIn() {
		logger.Info("session restored from disk", zap.Int64("user_id", session.User.ID))
	} else if err := login(ctx, manager, *email, *password); err != nil {
		logger.Fatal("login failed", zap.Error(err))
	}

	logger.Info("holding session",
		zap.Duration("duration", *duration),
		zap.Duration("poll_interval", *interval))

	select {
	case <-ctx.Done():
		logger.Info("interrupted")
	case <-time.After(*duration):
	}

	final := manager.Current()
	if final.SignedIn() {
		manager.Logout(context.Background())
		logger.Info("logged out")
	} else {
		logger.Info("session ended before logout")
	}

	report(manager)
}

func login(ctx context.Context, manager *bidsession.SessionManager, email, password string) error {
	_, err := manager.Login(ctx, bidsession.LoginRequest{Email: email, Password: password})
	if err == nil {
		return nil
	}

	challenge := manager.CurrentChallenge()
	if challenge == nil {
		return err
	}

	fmt.Printf("second factor required (challenge %s)\n", challenge.ID)
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("code (prefix with r: for a recovery code): ")
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			return readErr
		}
		code := strings.TrimSpace(line)
		mode := bidsession.ChallengeModeOTP
		if rest, ok := strings.CutPrefix(code, "r:"); ok {
			code, mode = rest, bidsession.ChallengeModeRecovery
		}

		_, verifyErr := manager.VerifyChallenge(ctx, code, mode)
		if verifyErr == nil {
			return nil
		}
		fmt.Printf("verification failed: %v\n", verifyErr)
		if manager.CurrentChallenge() == nil ||
			manager.CurrentChallenge().State != bidsession.ChallengeCreated {
			return verifyErr
		}
	}
}

func report(manager *bidsession.SessionManager) {
	snap := manager.MetricsSnapshot()
	fmt.Println("--- metrics ---")
	fmt.Printf("keep-alives applied:   %d\n", snap.Counters[bidsession.MetricKeepAlive])
	fmt.Printf("transient failures:    %d\n", snap.Counters[bidsession.MetricPollTransientFailure])
	fmt.Printf("rotations applied:     %d\n", snap.Counters[bidsession.MetricRotationApplied])
	fmt.Printf("sessions invalidated:  %d\n", snap.Counters[bidsession.MetricSessionInvalidated])
	if buckets, ok := snap.Histograms[bidsession.MetricPollLatency]; ok {
		var total uint64
		for _, v := range buckets {
			total += v
		}
		fmt.Printf("latency samples:       %d\n", total)
	}
}

func fromEnv(dst *string, key string) {
	if *dst == "" {
		*dst = os.Getenv(key)
	}
}

func buildLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
