package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/acoustic"
	"voxpipe-server/pkg/circuitbreaker"
	"voxpipe-server/pkg/config"
	http_server "voxpipe-server/pkg/http"
	"voxpipe-server/pkg/job"
	"voxpipe-server/pkg/llm"
	"voxpipe-server/pkg/messaging"
	"voxpipe-server/pkg/metrics"
	"voxpipe-server/pkg/pipeline"
	"voxpipe-server/pkg/ratelimit"
	"voxpipe-server/pkg/recommend"
	"voxpipe-server/pkg/session"
	"voxpipe-server/pkg/stt"
	"voxpipe-server/pkg/util"
	"voxpipe-server/pkg/version"
)

var logger = logrus.New()

func main() {
	logger.WithField("version", version.Version).Info("Starting voxpipe server")

	appConfig, err := config.LoadConfig(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := appConfig.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.SetLevel(appConfig.Logging.Level)
	if appConfig.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	metrics.Init(logger)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	shutdown := util.NewGracefulShutdown(logger, 15*time.Second)

	// Speech-to-text providers
	sttManager := stt.NewProviderManager(logger, appConfig.STT.DefaultProvider)
	for _, name := range appConfig.STT.SupportedProviders {
		var provider stt.Provider
		switch name {
		case "openai":
			provider = stt.NewOpenAIProvider(logger, &appConfig.STT.OpenAI)
		case "google":
			provider = stt.NewGoogleProvider(logger, &appConfig.STT.Google)
		case "mock":
			provider = stt.NewMockProvider(logger)
		default:
			logger.WithField("provider", name).Warn("Unknown STT provider, skipping")
			continue
		}
		if err := sttManager.RegisterProvider(provider); err != nil {
			logger.WithError(err).WithField("provider", name).Error("Skipping STT provider")
		}
	}

	// Turn persistence sink, disabled without broker configuration
	var sink messaging.Sink = messaging.NoopSink{}
	if appConfig.Messaging.AMQPUrl != "" {
		amqpSink := messaging.NewAMQPSink(logger, messaging.AMQPConfig{
			URL:       appConfig.Messaging.AMQPUrl,
			QueueName: appConfig.Messaging.AMQPQueueName,
		})
		if err := amqpSink.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, turns will not be persisted")
		} else {
			sink = amqpSink
			shutdown.Register(util.ShutdownResource{
				Name:     "amqp",
				Priority: 20,
				Shutdown: func(ctx context.Context) error {
					amqpSink.Disconnect()
					return nil
				},
			})
		}
	} else {
		logger.Info("AMQP_URL not set, turn persistence disabled")
	}

	// Pipeline components
	jobStore := job.NewMemoryStore(logger)
	historyStore := session.NewMemoryHistoryStore()

	recommender := recommend.NewProvider(logger)
	shutdown.Register(util.ShutdownResource{
		Name:     "recommendation cache",
		Priority: 30,
		Shutdown: func(ctx context.Context) error {
			recommender.Close()
			return nil
		},
	})

	var completer llm.Completer = llm.NewClient(logger, &appConfig.LLM)
	if appConfig.Breaker.Enabled {
		breaker := circuitbreaker.New(logger, "llm",
			appConfig.Breaker.FailureThreshold, appConfig.Breaker.ResetTimeout)
		completer = llm.NewGuardedCompleter(completer, breaker)
	}
	analyzer := llm.NewAnalyzer(logger, completer, appConfig.Pipeline.AnalysisTimeout)
	generator := llm.NewGenerator(logger, completer, recommender,
		appConfig.Pipeline.HistoryLimit, appConfig.Pipeline.GenerationTimeout)

	var extractor pipeline.FeatureExtractor
	if appConfig.Acoustic.Enabled {
		extractor = acoustic.NewExtractor(logger, &appConfig.Acoustic)
		logger.WithField("binary", appConfig.Acoustic.BinaryPath).Info("Acoustic feature extraction enabled")
	} else {
		logger.Info("Acoustic feature extraction disabled")
	}

	orchestrator := pipeline.NewOrchestrator(logger, &appConfig.Pipeline, &appConfig.STT,
		jobStore, sttManager, extractor, analyzer, generator, historyStore, sink)

	// Job updates fan out over WebSocket
	wsHub := http_server.NewJobHub(logger)
	go wsHub.Run(rootCtx)
	jobStore.Subscribe(wsHub.BroadcastJob)

	// HTTP surface
	if appConfig.HTTP.Enabled {
		limiter := ratelimit.NewMiddleware(logger, &appConfig.RateLimit)
		shutdown.Register(util.ShutdownResource{
			Name:     "rate limiter",
			Priority: 40,
			Shutdown: func(ctx context.Context) error {
				limiter.Close()
				return nil
			},
		})

		voiceHandler := http_server.NewVoiceHandler(logger, orchestrator,
			appConfig.Pipeline.UploadDir, appConfig.HTTP.MaxUploadSize)
		server := http_server.NewServer(logger, &appConfig.HTTP, voiceHandler, wsHub, limiter)
		server.Start()
		shutdown.Register(util.ShutdownResource{
			Name:     "http server",
			Priority: 10,
			Shutdown: server.Shutdown,
		})
	} else {
		logger.Warn("HTTP server disabled, no caller surface is exposed")
	}

	// Wait for termination
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := shutdown.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown finished with errors")
		os.Exit(1)
	}
}
