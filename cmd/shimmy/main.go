// Command shimmy runs the local inference server: it wires the model
// registry, the backend adapters, the inference engine, and the HTTP
// request pipeline together and serves until signalled to stop. There is
// no flag parsing; all configuration comes from environment variables.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/shimmy-run/shimmy/pkg/inference"
	"github.com/shimmy-run/shimmy/pkg/inference/backends/localgguf"
	"github.com/shimmy-run/shimmy/pkg/inference/backends/remoteadapter"
	"github.com/shimmy-run/shimmy/pkg/inference/engine"
	"github.com/shimmy-run/shimmy/pkg/inference/models"
	"github.com/shimmy-run/shimmy/pkg/logging"
	"github.com/shimmy-run/shimmy/pkg/request"
)

const (
	exitSuccess         = 0
	exitConfigError     = 1
	exitPortBindFailure = 2
	exitNoModelsFound   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.NewLogrusLogger(logrus.InfoLevel, os.Getenv("SHIMMY_LOG_JSON") == "1")

	registry, err := buildRegistry(log)
	if err != nil {
		log.WithError(err).Error("failed to build model registry")
		return exitConfigError
	}
	defer registry.Shutdown()

	if requireModel := os.Getenv("SHIMMY_REQUIRE_MODEL"); requireModel != "" {
		if _, ok := registry.Get(requireModel); !ok {
			log.WithField("model", requireModel).Error("required model not found in registry")
			return exitNoModelsFound
		}
	}

	eng := engine.New(registry, log)
	server := request.NewServer(eng, registry, log, prometheus.NewRegistry())

	host := os.Getenv("SHIMMY_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("SHIMMY_PORT")
	if port == "" {
		port = "11435"
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		log.WithError(err).Error("failed to bind listen address")
		return exitPortBindFailure
	}

	httpServer := &http.Server{Handler: server}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	log.WithField("addr", listener.Addr().String()).Info("shimmy listening")

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown did not complete cleanly")
		}
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped unexpectedly")
			return exitConfigError
		}
	}

	return exitSuccess
}

// buildRegistry populates a Registry from environment variables, then an
// explicit model spec file, then an auto-discovery pass, in that order, so
// manually configured entries are never overwritten by a discovered one of
// the same name.
func buildRegistry(log logging.Logger) (*models.Registry, error) {
	backends := map[inference.BackendKind]inference.Backend{
		inference.BackendLocalGGUF:     localgguf.New(log),
		inference.BackendRemoteAdapter: remoteadapter.New(log, os.Getenv("SHIMMY_REMOTE_BASE_URL"), os.Getenv("SHIMMY_REMOTE_API_KEY")),
	}
	registry := models.NewRegistry(backends, models.WithLogger(log))

	if spec := models.LoadFromEnvironment(); spec != nil {
		if err := registry.Register(*spec, true); err != nil {
			return nil, err
		}
	}

	specs, err := models.LoadSpecFile(os.Getenv("SHIMMY_MODELS_FILE"))
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if err := registry.Register(spec, true); err != nil {
			return nil, err
		}
	}

	if os.Getenv("SHIMMY_NO_DISCOVERY") != "1" {
		scanner := models.NewScanner(models.DefaultRoots())
		n, err := registry.AutoRegisterDiscovered(scanner)
		if err != nil {
			log.WithError(err).Warn("model discovery scan failed; continuing with configured models only")
		} else {
			log.WithField("count", n).Info("auto-registered discovered models")
		}
	}

	return registry, nil
}
