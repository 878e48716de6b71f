package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/pitchside/broadcast-service/internal/camera"
	"github.com/pitchside/broadcast-service/internal/config"
	"github.com/pitchside/broadcast-service/internal/peer"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
)

// camera-agent runs one camera participant in-process: it registers its
// slot, publishes a test-pattern track, offers to the admin, and keeps
// negotiating until interrupted. Shared redis backends are required so
// the agent and the broadcast service see the same channel and room.
func main() {
	var (
		sessionID  = flag.String("session", "", "broadcast session id")
		slot       = flag.Int("slot", 1, "camera slot (1-4)")
		deviceName = flag.String("device", "camera-agent", "device name reported to the room")
	)
	flag.Parse()

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "usage: camera-agent -session <id> [-slot N] [-device name]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "camera-agent",
	})
	l := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	channel, err := signaling.NewRedisChannel(cfg.Signaling.Redis)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create redis signaling channel")
	}
	defer channel.Close()

	rooms, err := roomstate.NewRedisStore(cfg.RoomState.Redis)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create redis room store")
	}
	defer rooms.Close()

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, "video", *deviceName)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create local track")
	}
	go writeTestPattern(ctx, track)

	mgr := camera.New(camera.Config{
		SessionID:          *sessionID,
		Slot:               *slot,
		DeviceName:         *deviceName,
		Channel:            channel,
		Rooms:              rooms,
		PeerFactory:        peer.NewPionFactory(cfg.WebRTC.GetICEServers()),
		Media:              &camera.StaticSource{Tracks: []webrtc.TrackLocal{track}},
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout(),
		OnZoom: func(level float64) {
			pkglog.L().Info().Float64("level", level).Msg("zoom command acknowledged")
		},
	})
	defer mgr.Destroy(context.Background())

	if err := mgr.Register(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to register camera")
	}
	if err := mgr.AcquireMedia(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to acquire media")
	}
	if err := mgr.CreateOffer(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to send offer")
	}

	if err := mgr.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error().Err(err).Msg("camera listener stopped")
		os.Exit(1)
	}
	l.Info().Msg("camera agent stopped")
}

// writeTestPattern feeds an empty VP8 keyframe cadence so the transport
// carries media even without a capture device.
func writeTestPattern(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: frame, Duration: 33 * time.Millisecond}); err != nil {
				return
			}
		}
	}
}
