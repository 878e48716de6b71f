package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/pitchside/broadcast-service/internal/broadcast"
	"github.com/pitchside/broadcast-service/internal/config"
	"github.com/pitchside/broadcast-service/internal/handler"
	"github.com/pitchside/broadcast-service/internal/peer"
	"github.com/pitchside/broadcast-service/internal/recorder"
	"github.com/pitchside/broadcast-service/internal/relay"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
	"github.com/pitchside/broadcast-service/pkg/database"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
	"github.com/pitchside/broadcast-service/pkg/pubsub"
	"github.com/pitchside/broadcast-service/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "broadcast-service",
	})
	l := pkglog.L()
	l.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting broadcast service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Signaling channel backend.
	var channel signaling.Channel
	switch cfg.Signaling.Type {
	case "redis":
		redisChannel, err := signaling.NewRedisChannel(cfg.Signaling.Redis)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create redis signaling channel")
		}
		defer redisChannel.Close()
		channel = redisChannel
		l.Info().Msg("using redis signaling channel")
	default:
		channel = signaling.NewMemoryChannel()
		l.Info().Msg("using in-memory signaling channel")
	}

	// Room state backend.
	var rooms roomstate.Store
	switch cfg.RoomState.Type {
	case "redis":
		redisStore, err := roomstate.NewRedisStore(cfg.RoomState.Redis)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create redis room store")
		}
		defer redisStore.Close()
		rooms = redisStore
		l.Info().Msg("using redis room store")
	default:
		rooms = roomstate.NewMemoryStore()
		l.Info().Msg("using in-memory room store")
	}

	// Blob storage for recording segments.
	var blobs storage.Storage
	switch cfg.Storage.Type {
	case "s3":
		blobs, err = storage.NewS3Storage(ctx, cfg.Storage.S3)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize s3 storage")
		}
		l.Info().Str("bucket", cfg.Storage.S3.Bucket).Msg("using s3 storage")
	default:
		blobs, err = storage.NewLocalStorage(cfg.Storage.Local)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to initialize local storage")
		}
		l.Info().Str("path", cfg.Storage.Local.BasePath).Msg("using local storage")
	}

	// Recording metadata store.
	db, err := database.New(&cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	recordings, err := recorder.NewGormStore(db)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to migrate recording tables")
	}

	// Segment uploader and spool recovery.
	uploader := recorder.NewUploader(blobs, recorder.UploaderConfig{
		Workers:    cfg.Recorder.UploadWorkers,
		QueueSize:  cfg.Recorder.UploadQueueSize,
		MaxRetries: cfg.Recorder.UploadMaxRetries,
		URLTTL:     time.Duration(cfg.Recorder.URLTTLHours) * time.Hour,
	})
	uploader.Start()
	defer uploader.Stop()

	spoolWatcher := recorder.NewSpoolWatcher(cfg.Recorder.SpoolDir, func(f recorder.SpoolFile) {
		task := &recorder.UploadTask{
			SessionID:   f.SessionID,
			LocalPath:   f.Path,
			Key:         fmt.Sprintf("recordings/%s/segment_%d.ts", f.SessionID, f.SegmentNumber),
			ContentType: "video/mp2t",
			OnComplete: func(url string, size int64, err error) {
				if err != nil {
					return
				}
				os.Remove(f.Path)
			},
		}
		if err := uploader.Enqueue(task); err != nil {
			pkglog.L().Warn().Err(err).Str("path", f.Path).Msg("spool recovery not queued")
		}
	})
	if err := spoolWatcher.Start(); err != nil {
		l.Fatal().Err(err).Msg("failed to start spool watcher")
	}
	defer spoolWatcher.Stop()

	// Event bus for broadcast lifecycle events.
	bus, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create event bus")
	}
	defer bus.Close()

	// Broadcast session service: one admin manager and recorder per open
	// session.
	service := broadcast.NewService(broadcast.ServiceConfig{
		Channel:         channel,
		Rooms:           rooms,
		PeerFactory:     peer.NewPionFactory(cfg.WebRTC.GetICEServers()),
		RecordingStore:  recordings,
		Uploader:        uploader,
		SpoolDir:        cfg.Recorder.SpoolDir,
		SegmentInterval: cfg.Recorder.SegmentInterval(),
		Events:          bus,
	})

	// Signaling relay for WebSocket participants.
	hub := relay.NewHub(channel, cfg.WebSocket)

	// HTTP API.
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(pkglog.GinMiddleware(l), gin.Recovery())

	handler.NewHTTPHandler(rooms, recordings).RegisterRoutes(router)
	handler.NewControlHandler(service).RegisterRoutes(router)
	handler.NewWSHandler(hub).RegisterRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		l.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		service.Shutdown(shutdownCtx)
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		l.Error().Err(err).Msg("service exited with error")
		os.Exit(1)
	}
	l.Info().Msg("service stopped")
}
