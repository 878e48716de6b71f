package recorder

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	pkglog "github.com/pitchside/broadcast-service/pkg/log"
	"github.com/pitchside/broadcast-service/pkg/storage"
)

// UploadTask is one spool file destined for blob storage.
type UploadTask struct {
	SessionID   string
	LocalPath   string
	Key         string
	ContentType string
	OnComplete  func(url string, size int64, err error)
}

// Uploader moves finished segment files to blob storage with a worker
// pool and bounded retries. A task that exhausts its retries reports the
// error to its callback and is dropped; the local spool file is kept for
// later recovery.
type Uploader struct {
	storage    storage.Storage
	workers    int
	queue      chan *UploadTask
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	maxRetries int
	retryDelay time.Duration
	urlTTL     time.Duration
	stopOnce   sync.Once
}

// UploaderConfig holds configuration for the segment uploader.
type UploaderConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
	URLTTL     time.Duration
}

// NewUploader creates a segment uploader.
func NewUploader(s storage.Storage, cfg UploaderConfig) *Uploader {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Uploader{
		storage:    s,
		workers:    cfg.Workers,
		queue:      make(chan *UploadTask, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		urlTTL:     cfg.URLTTL,
	}
}

// Start launches the upload workers.
func (u *Uploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	pkglog.L().Info().Int("workers", u.workers).Msg("segment uploader started")
}

// Stop drains in-flight uploads and stops the workers.
func (u *Uploader) Stop() {
	u.stopOnce.Do(func() {
		u.cancel()
		close(u.queue)
		u.wg.Wait()
		pkglog.L().Info().Msg("segment uploader stopped")
	})
}

// Enqueue queues a segment file for upload.
func (u *Uploader) Enqueue(task *UploadTask) error {
	select {
	case u.queue <- task:
		return nil
	case <-u.ctx.Done():
		return fmt.Errorf("uploader is stopped")
	default:
		return fmt.Errorf("upload queue is full")
	}
}

// UploadSync uploads one file synchronously, used for the final flush on
// Stop where the recording must not complete before its last segment is
// durable.
func (u *Uploader) UploadSync(ctx context.Context, task *UploadTask) (string, int64, error) {
	return u.uploadFile(ctx, task)
}

func (u *Uploader) worker() {
	defer u.wg.Done()

	for {
		select {
		case task, ok := <-u.queue:
			if !ok {
				return
			}
			u.processTask(task)
		case <-u.ctx.Done():
			return
		}
	}
}

func (u *Uploader) processTask(task *UploadTask) {
	l := pkglog.L().With().Str(pkglog.FieldSessionID, task.SessionID).Str("key", task.Key).Logger()
	var lastErr error

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(u.retryDelay * time.Duration(attempt))
		}

		url, size, err := u.uploadFile(u.ctx, task)
		if err == nil {
			if task.OnComplete != nil {
				task.OnComplete(url, size, nil)
			}
			return
		}

		lastErr = err
		l.Warn().Err(err).Int("attempt", attempt+1).Msg("upload attempt failed")
	}

	l.Error().Err(lastErr).Int("attempts", u.maxRetries+1).Msg("upload failed after retries")
	if task.OnComplete != nil {
		task.OnComplete("", 0, lastErr)
	}
}

func (u *Uploader) uploadFile(ctx context.Context, task *UploadTask) (string, int64, error) {
	file, err := os.Open(task.LocalPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open file %s: %w", task.LocalPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat file %s: %w", task.LocalPath, err)
	}

	if err := u.storage.Write(ctx, task.Key, file, info.Size(), task.ContentType); err != nil {
		return "", 0, fmt.Errorf("failed to upload segment: %w", err)
	}

	url, err := u.storage.GetURL(ctx, task.Key, u.urlTTL)
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve segment url: %w", err)
	}
	return url, info.Size(), nil
}

// QueueLength returns the current number of pending tasks.
func (u *Uploader) QueueLength() int {
	return len(u.queue)
}
