package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/api"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/camera"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/collector"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/config"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/database"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/heartbeat"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/kafka"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/logging"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/motion"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/runner"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/s3"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/sysinfo"
	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/timeutil"
)

const (
	snapshotTimeout = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	log.Println("Main: init...")

	// Чтение конфига
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal(err)
	}

	logger, logCloser, err := logging.New(cfg.LogFile, cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	clock := timeutil.RealClock{}

	var (
		sinks      []runner.Sink
		events     api.EventStore
		heartbeats []heartbeat.Sender
	)

	// Инициализация s3
	var minioClient *s3.Client
	if cfg.Minio.Endpoint != "" {
		minioClient, err = s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.Secure)
		if err != nil {
			log.Fatalf("Failed connect to MinIO: %v", err)
		}
		if err := minioClient.EnsureBucket(ctx); err != nil {
			log.Fatalf("Failed to prepare bucket %s: %v", cfg.Minio.Bucket, err)
		}
		sinks = append(sinks, minioClient)
	}

	// Инициализация базы данных
	if cfg.Postgres.DSN != "" {
		db, err := database.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		if err := db.Init(ctx); err != nil {
			log.Fatal(err)
		}
		sinks = append(sinks, db)
		events = db
	}

	reporter := collector.NewClient(
		cfg.Collector,
		cfg.ClientID,
		&http.Client{},
		collector.Encoder{Quality: cfg.JPEGQuality, Annotate: cfg.Annotate},
		cfg.ReportTimeout(),
	)
	heartbeats = append(heartbeats, reporter)

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafka.NewProducer(cfg.Kafka.Brokers, cfg.ClientID, cfg.Kafka.HeartbeatTopic, cfg.Kafka.EventTopic)
		if err != nil {
			log.Fatalf("Failed to create Kafka producer: %v", err)
		}
		defer producer.Close()
		sinks = append(sinks, producer)
		heartbeats = append(heartbeats, producer)
	}

	src, err := newFrameSource(ctx, cfg, minioClient)
	if err != nil {
		log.Fatalf("Failed to open camera: %v", err)
	}
	cam := camera.NewGuard(src, clock)
	defer cam.Close()

	detector := motion.NewDetector(motion.Params{
		Alpha:             cfg.Alpha,
		DeltaThreshold:    cfg.DeltaThreshold,
		BlurSigma:         cfg.BlurSigma,
		DilateSize:        cfg.DilateSize,
		ProcessWidth:      cfg.ProcessWidth,
		MinRegionArea:     cfg.MinRegionArea,
		Cooldown:          cfg.Cooldown(),
		QuiescenceTimeout: cfg.QuiescenceTimeout(),
	})

	r := runner.New(detector, cam, reporter, clock, m, logger.With("component", "runner"), runner.Options{
		ClientID:       cfg.ClientID,
		SampleInterval: cfg.SampleInterval(),
		ReportTimeout:  cfg.ReportTimeout(),
		StartPaused:    cfg.StartPaused,
	}, sinks...)

	scheduler := heartbeat.New(cfg.HeartbeatInterval(), cfg.ReportTimeout(), clock, m, logger.With("component", "heartbeat"), heartbeats...)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	// Горутина для команд из Kafka
	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.CommandTopic, cfg.ClientID, logger.With("component", "commands"))
		if err != nil {
			log.Fatalf("Failed to create Kafka consumer: %v", err)
		}
		defer consumer.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx, r.HandleCommand)
		}()
	}

	handlers := api.NewHandlers(r, events, sysinfo.NewReader(), clock, m.Handler(), logger.With("component", "api"))
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting agent API server", "addr", srv.Addr, "client_id", cfg.ClientID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Завершение работы...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", "err", err)
	}
	wg.Wait()
	logger.Info("agent stopped")
}

func newFrameSource(ctx context.Context, cfg *config.Config, store *s3.Client) (camera.FrameSource, error) {
	switch cfg.Camera.Kind {
	case "snapshot", "":
		return camera.NewSnapshotSource(cfg.Camera.URL, &http.Client{Timeout: snapshotTimeout}), nil
	case "dir":
		return camera.NewDirSource(cfg.Camera.Dir)
	case "s3":
		if store == nil {
			return nil, errors.New("camera kind s3 needs the minio block configured")
		}
		bucket := cfg.Camera.Bucket
		if bucket == "" {
			bucket = cfg.Minio.Bucket
		}
		return camera.NewS3Source(ctx, store, bucket, cfg.Camera.Prefix)
	default:
		return nil, fmt.Errorf("unknown camera kind %q", cfg.Camera.Kind)
	}
}
