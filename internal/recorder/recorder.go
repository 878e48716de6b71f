package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pitchside/broadcast-service/internal/audit"
	"github.com/pitchside/broadcast-service/internal/domain"
	pkglog "github.com/pitchside/broadcast-service/pkg/log"
	"github.com/pitchside/broadcast-service/pkg/pubsub"
)

var (
	// ErrAlreadyRecording is returned when Start is called twice.
	ErrAlreadyRecording = errors.New("recording already in progress")
	// ErrSpoolWrite wraps failures to persist a segment locally before
	// upload.
	ErrSpoolWrite = errors.New("segment spool write failed")
)

const segmentContentType = "video/mp2t"

// Recorder archives one session's media into rotating segments. Segments
// close on a fixed interval and out of cycle on camera switches; each
// finished segment is spooled to disk, uploaded, and appended to the
// recording's segment list. Segment numbers only ever grow, so a failed
// upload leaves a numbered gap instead of shifting later segments.
//
// The in-memory segment list is authoritative for the running recording;
// the store is an append-only journal of it.
type Recorder struct {
	sessionID string
	source    Source
	store     Store
	uploader  *Uploader
	spoolDir  string
	interval  time.Duration
	events    pubsub.Publisher
	log       zerolog.Logger

	// now is the clock and newTicker the rotation timer factory, both
	// replaceable in tests.
	now       func() time.Time
	newTicker func(d time.Duration) (<-chan time.Time, func())

	mu            sync.Mutex
	recording     bool
	startedAt     time.Time
	nextSegment   int
	buf           *bytes.Buffer
	segStart      time.Time
	currentCamera string
	usingFallback bool
	segments      []domain.RecordingSegment
	timeline      []domain.CameraEvent
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	commitWG      sync.WaitGroup
}

// Config holds the dependencies and settings for a recorder.
type Config struct {
	SessionID string
	Source    Source
	Store     Store
	Uploader  *Uploader
	SpoolDir  string

	// SegmentInterval is the rotation period. Zero selects the default of
	// 15 minutes.
	SegmentInterval time.Duration

	// Events is optional; when set, recording start and stop are
	// published for other services.
	Events pubsub.Publisher
}

// New creates a recorder for a session.
func New(cfg Config) *Recorder {
	interval := cfg.SegmentInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Recorder{
		sessionID: cfg.SessionID,
		source:    cfg.Source,
		store:     cfg.Store,
		uploader:  cfg.Uploader,
		spoolDir:  cfg.SpoolDir,
		interval:  interval,
		events:    cfg.Events,
		now:       time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		buf: &bytes.Buffer{},
		log: pkglog.L().With().
			Str(pkglog.FieldSessionID, cfg.SessionID).
			Str(pkglog.FieldLogType, "recorder").
			Logger(),
	}
}

// Start begins recording the given camera's feed.
func (r *Recorder) Start(ctx context.Context, cameraID string) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}

	start := r.now().UTC()
	r.recording = true
	r.startedAt = start
	r.segStart = start
	r.currentCamera = cameraID
	r.usingFallback = false
	r.buf.Reset()
	// A fresh recording starts with an empty segment list and timeline.
	// nextSegment is NOT reset: numbers and storage keys stay unique
	// across a session's recordings, so a restart can never overwrite an
	// earlier recording's blobs.
	r.segments = nil
	r.timeline = nil

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	rec := &domain.Recording{
		SessionID: r.sessionID,
		StartedAt: start,
		Status:    domain.RecordingStatusRecording,
	}
	if err := r.store.Create(ctx, rec); err != nil {
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("create recording: %w", err)
	}

	r.appendEvent(ctx, domain.CameraEvent{
		TimestampSec: 0,
		Type:         domain.EventRecordingStart,
		ToCameraID:   cameraID,
	})

	r.wg.Add(2)
	go r.captureLoop(runCtx)
	go r.rotationLoop(runCtx)

	r.publish(ctx, pubsub.EventRecordingStarted, pubsub.RecordingPayload{SessionID: r.sessionID, CameraID: cameraID})
	audit.LogWithDetail(ctx, audit.ActionRecordingStart, r.sessionID, cameraID, "recording started")
	r.log.Info().Str("camera_id", cameraID).Msg("recording started")
	return nil
}

// SwitchSource rotates the current segment out of cycle and notes a
// camera switch on the timeline, so that no single segment mixes footage
// from two cameras. A switch while idle only logs.
func (r *Recorder) SwitchSource(ctx context.Context, toCameraID string) error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		r.log.Debug().Str("camera_id", toCameraID).Msg("source switch while idle ignored")
		return nil
	}
	from := r.currentCamera
	seg := r.cutSegmentLocked()
	r.currentCamera = toCameraID
	elapsed := r.now().UTC().Sub(r.startedAt).Seconds()
	r.mu.Unlock()

	if seg != nil {
		r.commitAsync(seg)
	}

	r.appendEvent(ctx, domain.CameraEvent{
		TimestampSec: elapsed,
		Type:         domain.EventCameraSwitch,
		FromCameraID: from,
		ToCameraID:   toCameraID,
	})
	r.log.Info().Str("from", from).Str("to", toCameraID).Msg("recording source switched")
	return nil
}

// RecordFallback notes a fallback toggle on the timeline. The recorder
// keeps taping the live camera feed; the fallback image only affects the
// public view, so toggling it never rotates a segment.
func (r *Recorder) RecordFallback(ctx context.Context, on bool, imageURL string) error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil
	}
	r.usingFallback = on
	elapsed := r.now().UTC().Sub(r.startedAt).Seconds()
	r.mu.Unlock()

	eventType := domain.EventFallbackOff
	if on {
		eventType = domain.EventFallbackOn
	}
	r.appendEvent(ctx, domain.CameraEvent{
		TimestampSec:     elapsed,
		Type:             eventType,
		FallbackImageURL: imageURL,
	})
	audit.LogWithDetail(ctx, audit.ActionFallbackToggle, r.sessionID, eventType, "fallback toggled")
	return nil
}

// Stop ends the recording: the final partial segment is flushed
// synchronously, the timeline gets its closing event, and the recording
// is marked completed. Stopping when idle is a no-op returning nil.
func (r *Recorder) Stop(ctx context.Context) (*domain.Recording, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, nil
	}
	r.recording = false
	cancel := r.cancel
	r.cancel = nil
	seg := r.cutSegmentLocked()
	end := r.now().UTC()
	duration := end.Sub(r.startedAt)
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	// The last segment must be durable before the recording completes.
	if seg != nil {
		r.commitSync(ctx, seg)
	}
	r.commitWG.Wait()

	r.appendEvent(ctx, domain.CameraEvent{
		TimestampSec: duration.Seconds(),
		Type:         domain.EventRecordingStop,
	})

	r.mu.Lock()
	rec := &domain.Recording{
		SessionID:    r.sessionID,
		StartedAt:    r.startedAt,
		EndedAt:      &end,
		Duration:     duration,
		Status:       domain.RecordingStatusCompleted,
		Segments:     append([]domain.RecordingSegment(nil), r.segments...),
		CameraEvents: append([]domain.CameraEvent(nil), r.timeline...),
	}
	r.mu.Unlock()

	if err := r.store.Complete(ctx, r.sessionID, rec); err != nil {
		return nil, fmt.Errorf("complete recording: %w", err)
	}

	r.publish(ctx, pubsub.EventRecordingStopped, pubsub.RecordingPayload{SessionID: r.sessionID})
	audit.Log(ctx, audit.ActionRecordingStop, r.sessionID, "recording stopped")
	r.log.Info().Dur("duration", duration).Int("segments", len(rec.Segments)).Msg("recording stopped")
	return rec, nil
}

// Snapshot returns the recording as currently known in memory.
func (r *Recorder) Snapshot() *domain.Recording {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &domain.Recording{
		SessionID:    r.sessionID,
		StartedAt:    r.startedAt,
		Status:       domain.RecordingStatusRecording,
		Segments:     append([]domain.RecordingSegment(nil), r.segments...),
		CameraEvents: append([]domain.CameraEvent(nil), r.timeline...),
	}
	if !r.recording {
		rec.Status = domain.RecordingStatusCompleted
	}
	return rec
}

// captureLoop drains the source into the current segment buffer.
func (r *Recorder) captureLoop(ctx context.Context) {
	defer r.wg.Done()

	for {
		data, err := r.source.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.log.Warn().Err(err).Msg("media source read ended")
			}
			return
		}
		r.mu.Lock()
		if r.recording {
			r.buf.Write(data)
		}
		r.mu.Unlock()
	}
}

// rotationLoop closes the current segment every interval.
func (r *Recorder) rotationLoop(ctx context.Context) {
	defer r.wg.Done()

	tick, stop := r.newTicker(r.interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.mu.Lock()
			if !r.recording {
				r.mu.Unlock()
				return
			}
			seg := r.cutSegmentLocked()
			r.mu.Unlock()

			if seg != nil {
				r.commitAsync(seg)
			}
		}
	}
}

// pendingSegment is a closed segment awaiting spool and upload.
type pendingSegment struct {
	number        int
	data          []byte
	startOffset   float64
	duration      float64
	cameraID      string
	usingFallback bool
}

// cutSegmentLocked closes the current buffer into a numbered segment and
// opens the next one. The sequence number is consumed even if the later
// upload fails, which is what keeps numbers from ever being reused.
// Returns nil when the buffer is empty. Callers hold r.mu.
func (r *Recorder) cutSegmentLocked() *pendingSegment {
	now := r.now().UTC()
	if r.buf.Len() == 0 {
		r.segStart = now
		return nil
	}

	seg := &pendingSegment{
		number:        r.nextSegment,
		data:          append([]byte(nil), r.buf.Bytes()...),
		startOffset:   r.segStart.Sub(r.startedAt).Seconds(),
		duration:      now.Sub(r.segStart).Seconds(),
		cameraID:      r.currentCamera,
		usingFallback: r.usingFallback,
	}
	r.nextSegment++
	r.buf.Reset()
	r.segStart = now
	return seg
}

// commitAsync spools the segment and queues its upload.
func (r *Recorder) commitAsync(seg *pendingSegment) {
	path, err := r.spool(seg)
	if err != nil {
		r.log.Error().Err(err).Int(pkglog.FieldSegment, seg.number).Msg("segment lost before upload")
		return
	}

	r.commitWG.Add(1)
	task := &UploadTask{
		SessionID:   r.sessionID,
		LocalPath:   path,
		Key:         r.storageKey(seg.number),
		ContentType: segmentContentType,
		OnComplete: func(url string, size int64, err error) {
			defer r.commitWG.Done()
			if err != nil {
				// Spool file is kept; the spool watcher will retry it.
				r.log.Error().Err(err).Int(pkglog.FieldSegment, seg.number).Msg("segment upload failed, gap left")
				return
			}
			r.finishSegment(seg, url, size, path)
		},
	}
	if err := r.uploader.Enqueue(task); err != nil {
		r.commitWG.Done()
		r.log.Error().Err(err).Int(pkglog.FieldSegment, seg.number).Msg("segment upload not queued")
	}
}

// commitSync spools and uploads the segment inline.
func (r *Recorder) commitSync(ctx context.Context, seg *pendingSegment) {
	path, err := r.spool(seg)
	if err != nil {
		r.log.Error().Err(err).Int(pkglog.FieldSegment, seg.number).Msg("final segment lost before upload")
		return
	}

	task := &UploadTask{
		SessionID:   r.sessionID,
		LocalPath:   path,
		Key:         r.storageKey(seg.number),
		ContentType: segmentContentType,
	}
	url, size, err := r.uploader.UploadSync(ctx, task)
	if err != nil {
		r.log.Error().Err(err).Int(pkglog.FieldSegment, seg.number).Msg("final segment upload failed, gap left")
		return
	}
	r.finishSegment(seg, url, size, path)
}

// finishSegment records the uploaded segment in memory and in the store,
// then drops the spool file.
func (r *Recorder) finishSegment(seg *pendingSegment, url string, size int64, spoolPath string) {
	record := domain.RecordingSegment{
		SegmentNumber:   seg.number,
		URL:             url,
		StartTimeSec:    seg.startOffset,
		DurationSec:     seg.duration,
		CameraID:        seg.cameraID,
		IsUsingFallback: seg.usingFallback,
		SizeBytes:       size,
	}

	r.mu.Lock()
	r.segments = append(r.segments, record)
	sort.Slice(r.segments, func(i, j int) bool {
		return r.segments[i].SegmentNumber < r.segments[j].SegmentNumber
	})
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.AppendSegment(ctx, r.sessionID, record); err != nil {
		r.log.Warn().Err(err).Int(pkglog.FieldSegment, seg.number).Msg("segment not journaled")
	}

	if err := os.Remove(spoolPath); err != nil && !os.IsNotExist(err) {
		r.log.Warn().Err(err).Str("path", spoolPath).Msg("spool file not removed")
	}
	r.log.Info().Int(pkglog.FieldSegment, seg.number).Int64("size", size).Msg("segment committed")
}

func (r *Recorder) spool(seg *pendingSegment) (string, error) {
	if err := os.MkdirAll(r.spoolDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSpoolWrite, err)
	}
	path := filepath.Join(r.spoolDir, SpoolName(r.sessionID, seg.number))
	if err := os.WriteFile(path, seg.data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSpoolWrite, err)
	}
	return path, nil
}

func (r *Recorder) storageKey(segmentNumber int) string {
	return fmt.Sprintf("recordings/%s/segment_%d.ts", r.sessionID, segmentNumber)
}

// appendEvent records a timeline event in memory and in the store.
func (r *Recorder) appendEvent(ctx context.Context, event domain.CameraEvent) {
	r.mu.Lock()
	r.timeline = append(r.timeline, event)
	r.mu.Unlock()

	if err := r.store.AppendEvent(ctx, r.sessionID, event); err != nil {
		r.log.Warn().Err(err).Str("type", event.Type).Msg("timeline event not journaled")
	}
}

func (r *Recorder) publish(ctx context.Context, eventType string, payload any) {
	if r.events == nil {
		return
	}
	event, err := pubsub.NewEvent(eventType, r.sessionID, payload)
	if err != nil {
		r.log.Warn().Err(err).Msg("recording event not built")
		return
	}
	if err := r.events.Publish(ctx, pubsub.BroadcastEventsChannel(r.sessionID), event); err != nil {
		r.log.Warn().Err(err).Msg("recording event not published")
	}
}
