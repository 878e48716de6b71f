package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pitchside/broadcast-service/internal/domain"
	"github.com/pitchside/broadcast-service/pkg/database"
)

// RecordingModel is the recordings table.
type RecordingModel struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex;size:64"`
	StartedAt time.Time
	EndedAt   *time.Time
	Duration  int64 // nanoseconds
	Status    string `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides the default table name.
func (RecordingModel) TableName() string { return "recordings" }

// SegmentModel is one row per finished segment. Rows are insert-only;
// segment history is reconstructed by reading them back in segment
// number order.
type SegmentModel struct {
	ID              uint   `gorm:"primaryKey"`
	SessionID       string `gorm:"index;size:64"`
	SegmentNumber   int
	URL             string `gorm:"size:1024"`
	StartTimeSec    float64
	DurationSec     float64
	CameraID        string `gorm:"size:32"`
	IsUsingFallback bool
	SizeBytes       int64
	CreatedAt       time.Time
}

// TableName overrides the default table name.
func (SegmentModel) TableName() string { return "recording_segments" }

// EventModel is one row per timeline event, insert-only.
type EventModel struct {
	ID               uint   `gorm:"primaryKey"`
	SessionID        string `gorm:"index;size:64"`
	TimestampSec     float64
	Type             string `gorm:"size:32"`
	FromCameraID     string `gorm:"size:32"`
	ToCameraID       string `gorm:"size:32"`
	FallbackImageURL string `gorm:"size:1024"`
	CreatedAt        time.Time
}

// TableName overrides the default table name.
func (EventModel) TableName() string { return "recording_events" }

// GormStore is a Store backed by relational tables. Segments and events
// live in their own insert-only tables, so concurrent segment commits
// can never overwrite each other's rows.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the recording tables and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := database.AutoMigrate(db, &RecordingModel{}, &SegmentModel{}, &EventModel{}); err != nil {
		return nil, fmt.Errorf("migrate recording tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Create persists a new recording row. A previous recording for the
// session is superseded: its row is reset and its segment and event rows
// cleared, so the journal only ever describes the session's current
// recording.
func (s *GormStore) Create(ctx context.Context, rec *domain.Recording) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", rec.SessionID).Delete(&SegmentModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", rec.SessionID).Delete(&EventModel{}).Error; err != nil {
			return err
		}

		model := RecordingModel{
			SessionID: rec.SessionID,
			StartedAt: rec.StartedAt,
			Status:    string(rec.Status),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"started_at", "ended_at", "duration", "status", "updated_at"}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

// AppendSegment inserts one segment row.
func (s *GormStore) AppendSegment(ctx context.Context, sessionID string, seg domain.RecordingSegment) error {
	model := SegmentModel{
		SessionID:       sessionID,
		SegmentNumber:   seg.SegmentNumber,
		URL:             seg.URL,
		StartTimeSec:    seg.StartTimeSec,
		DurationSec:     seg.DurationSec,
		CameraID:        seg.CameraID,
		IsUsingFallback: seg.IsUsingFallback,
		SizeBytes:       seg.SizeBytes,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("append segment: %w", err)
	}
	return nil
}

// AppendEvent inserts one timeline event row.
func (s *GormStore) AppendEvent(ctx context.Context, sessionID string, event domain.CameraEvent) error {
	model := EventModel{
		SessionID:        sessionID,
		TimestampSec:     event.TimestampSec,
		Type:             event.Type,
		FromCameraID:     event.FromCameraID,
		ToCameraID:       event.ToCameraID,
		FallbackImageURL: event.FallbackImageURL,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Complete marks the recording row finished.
func (s *GormStore) Complete(ctx context.Context, sessionID string, rec *domain.Recording) error {
	result := s.db.WithContext(ctx).Model(&RecordingModel{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"ended_at": rec.EndedAt,
			"duration": int64(rec.Duration),
			"status":   string(domain.RecordingStatusCompleted),
		})
	if result.Error != nil {
		return fmt.Errorf("complete recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordingNotFound
	}
	return nil
}

// Get loads the recording with its segments and events.
func (s *GormStore) Get(ctx context.Context, sessionID string) (*domain.Recording, error) {
	var model RecordingModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordingNotFound
		}
		return nil, fmt.Errorf("load recording: %w", err)
	}

	rec := &domain.Recording{
		SessionID: model.SessionID,
		StartedAt: model.StartedAt,
		EndedAt:   model.EndedAt,
		Duration:  time.Duration(model.Duration),
		Status:    domain.RecordingStatus(model.Status),
	}

	var segments []SegmentModel
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("segment_number asc").
		Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}
	for _, seg := range segments {
		rec.Segments = append(rec.Segments, domain.RecordingSegment{
			SegmentNumber:   seg.SegmentNumber,
			URL:             seg.URL,
			StartTimeSec:    seg.StartTimeSec,
			DurationSec:     seg.DurationSec,
			CameraID:        seg.CameraID,
			IsUsingFallback: seg.IsUsingFallback,
			SizeBytes:       seg.SizeBytes,
		})
	}

	var events []EventModel
	if err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp_sec asc, id asc").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	for _, event := range events {
		rec.CameraEvents = append(rec.CameraEvents, domain.CameraEvent{
			TimestampSec:     event.TimestampSec,
			Type:             event.Type,
			FromCameraID:     event.FromCameraID,
			ToCameraID:       event.ToCameraID,
			FallbackImageURL: event.FallbackImageURL,
		})
	}

	return rec, nil
}

var _ Store = (*GormStore)(nil)
