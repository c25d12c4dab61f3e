package pushgateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-gateway/internal/api"
	"github.com/tinywideclouds/go-push-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
	"github.com/tinywideclouds/go-push-gateway/pushgateway/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.PushRequest]
	logger          *slog.Logger
}

// New assembles the service: the ingestion pipeline that fans push requests
// out to the provider doors, plus the device registration API.
//
// apnsPusher, hmsPusher and webDispatcher may be nil when the matching
// provider is not configured; the processor skips those buckets.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	apnsPusher dispatch.Pusher,
	hmsPusher dispatch.Pusher,
	webDispatcher dispatch.WebPusher,
	tokenStore dispatch.TokenStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor
	processor := pipeline.NewProcessor(apnsPusher, hmsPusher, webDispatcher, tokenStore, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService[dispatch.PushRequest](
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.PushRequestTransformer,
		processor,
		slog.New(slog.DiscardHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API (Device Registration)
	deviceAPI := api.NewDeviceAPI(tokenStore, logger)

	// Register Routes
	mux := baseServer.Mux()

	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	// OPTIONS preflight for the whole API surface.
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	protected := func(h http.HandlerFunc) http.Handler {
		return corsMiddleware(authMiddleware(h))
	}

	mux.Handle("POST /api/v1/devices/apns", protected(deviceAPI.RegisterAPNS))
	mux.Handle("DELETE /api/v1/devices/apns", protected(deviceAPI.UnregisterAPNS))
	mux.Handle("POST /api/v1/devices/hms", protected(deviceAPI.RegisterHMS))
	mux.Handle("DELETE /api/v1/devices/hms", protected(deviceAPI.UnregisterHMS))
	mux.Handle("POST /api/v1/devices/web", protected(deviceAPI.RegisterWeb))
	mux.Handle("DELETE /api/v1/devices/web", protected(deviceAPI.UnregisterWeb))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
