package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/broadcast-service/internal/domain"
	"github.com/pitchside/broadcast-service/internal/recorder"
	"github.com/pitchside/broadcast-service/internal/roomstate"
)

func newTestRouter(t *testing.T) (*gin.Engine, *roomstate.MemoryStore, *recorder.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rooms := roomstate.NewMemoryStore()
	recordings := recorder.NewMemoryStore()

	router := gin.New()
	NewHTTPHandler(rooms, recordings).RegisterRoutes(router)
	return router, rooms, recordings
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetRoom(t *testing.T) {
	router, rooms, _ := newTestRouter(t)
	ctx := context.Background()

	_, err := rooms.Create(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, rooms.SetCamera(ctx, "s1", 1, &domain.CameraConnection{
		Slot:   1,
		Status: domain.CameraStreaming,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/room", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "streaming")
}

func TestGetRoomNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing/room", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRecording(t *testing.T) {
	router, _, recordings := newTestRouter(t)
	ctx := context.Background()

	require.NoError(t, recordings.Create(ctx, &domain.Recording{
		SessionID: "s1",
		StartedAt: time.Now().UTC(),
		Status:    domain.RecordingStatusRecording,
	}))
	require.NoError(t, recordings.AppendSegment(ctx, "s1", domain.RecordingSegment{
		SegmentNumber: 0,
		URL:           "https://blobs.test/recordings/s1/segment_0.ts",
		CameraID:      "camera1",
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/s1/recording", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "segment_0.ts")
}

func TestGetRecordingNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/missing/recording", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
