package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/alquery/internal/api"
	"github.com/banshee-data/alquery/internal/campaign"
	"github.com/banshee-data/alquery/internal/inference"
	"github.com/banshee-data/alquery/internal/monitoring"
	"github.com/banshee-data/alquery/internal/store"
	"github.com/banshee-data/alquery/internal/version"
)

func runServe(args []string) error {
	fs := newFlagSet("serve")
	listen := fs.String("listen", ":8080", "Listen address")
	dbPath := fs.String("db", "", "Round database; enables round history and tailsql")
	configPath := fs.String("config", "", "Base query config file (.json)")
	detections := fs.String("detections", "", "Saved detections to serve queries from")
	inferenceAddr := fs.String("inference-addr", "", "Detector gRPC address")
	reportDir := fs.String("report-dir", "", "Write reports for every round under this directory")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *listen == "" {
		return errors.New("listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *inferenceAddr != "" {
		cfg.InferenceAddr = inferenceAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	metrics := monitoring.NewMetrics()
	mux := http.NewServeMux()

	var st *store.Store
	if *dbPath != "" {
		st, err = store.Open(*dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.AttachAdminRoutes(mux); err != nil {
			return err
		}
		log.Printf("round store %s, admin routes under /debug/", st.Path())
	}

	var c *campaign.Campaign
	runner, closeRunner, err := campaign.NewRunner(cfg, campaign.RunnerOptions{DetectionsPath: *detections})
	switch {
	case err == nil:
		defer closeRunner()
		c = &campaign.Campaign{Runner: runner, Store: st, Metrics: metrics, ReportDir: *reportDir}
	case *detections == "" && cfg.GetInferenceAddr() == "":
		log.Printf("no detection source configured; /api/query is disabled")
	default:
		return err
	}

	mux.Handle("/", api.NewServer(st, c, cfg, metrics).ServeMux())
	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("%s listening on %s", version.String(), *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
	return nil
}

func runReplayServer(args []string) error {
	fs := newFlagSet("replay-server")
	addr := fs.String("addr", "localhost:50051", "Listen address")
	detections := fs.String("detections", "", "Saved detections (.json or .cbor) to serve (required)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *detections == "" {
		fmt.Fprintln(os.Stderr, "Error: -detections flag is required")
		fs.Usage()
		return errUsage
	}

	dets, err := inference.LoadDetections(*detections)
	if err != nil {
		return err
	}
	log.Printf("Loaded %d detection records from %s", len(dets), *detections)

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", *addr, err)
	}
	srv := grpc.NewServer()
	inference.RegisterDetectorServer(srv, inference.NewReplayServer(inference.NewStaticRunner(dets...)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	log.Printf("Replay detector ready on %s", *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}
	log.Printf("Shutting down...")
	srv.GracefulStop()
	return nil
}
