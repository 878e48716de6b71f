package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchside/broadcast-service/internal/broadcast"
	"github.com/pitchside/broadcast-service/internal/peer"
	"github.com/pitchside/broadcast-service/internal/recorder"
	"github.com/pitchside/broadcast-service/internal/roomstate"
	"github.com/pitchside/broadcast-service/internal/signaling"
	"github.com/pitchside/broadcast-service/pkg/storage"
)

type stubConn struct{}

func (stubConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
}

func (stubConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, nil
}

func (stubConn) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (stubConn) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (stubConn) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }
func (stubConn) SignalingState() webrtc.SignalingState                { return webrtc.SignalingStateStable }
func (stubConn) ConnectionState() webrtc.PeerConnectionState {
	return webrtc.PeerConnectionStateNew
}
func (stubConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)    { return nil, nil }
func (stubConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))   {}
func (stubConn) OnICECandidate(func(*webrtc.ICECandidate))                {}
func (stubConn) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}
func (stubConn) Close() error                                             { return nil }

type stubFactory struct{}

func (stubFactory) NewConn() (peer.Conn, error) { return stubConn{}, nil }

func newControlRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	blobs, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	uploads := recorder.NewUploader(blobs, recorder.UploaderConfig{Workers: 1})
	uploads.Start()
	t.Cleanup(uploads.Stop)

	service := broadcast.NewService(broadcast.ServiceConfig{
		Channel:        signaling.NewMemoryChannel(),
		Rooms:          roomstate.NewMemoryStore(),
		PeerFactory:    stubFactory{},
		RecordingStore: recorder.NewMemoryStore(),
		Uploader:       uploads,
		SpoolDir:       t.TempDir(),
	})
	t.Cleanup(func() { service.Shutdown(context.Background()) })

	router := gin.New()
	NewControlHandler(service).RegisterRoutes(router)
	return router
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func TestOpenAndCloseSessionRoutes(t *testing.T) {
	router := newControlRouter(t)

	w := do(router, http.MethodPost, "/api/sessions/s1/open", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Opening again is rejected.
	w = do(router, http.MethodPost, "/api/sessions/s1/open", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/sessions/s1/close", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPost, "/api/sessions/s1/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetActiveCameraRoute(t *testing.T) {
	router := newControlRouter(t)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/sessions/s1/open", "").Code)

	w := do(router, http.MethodPut, "/api/sessions/s1/active-camera", `{"slot":2}`)
	assert.Equal(t, http.StatusOK, w.Code)

	// Null slot clears the selection.
	w = do(router, http.MethodPut, "/api/sessions/s1/active-camera", `{"slot":null}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPut, "/api/sessions/s1/active-camera", `{"slot":9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPut, "/api/sessions/missing/active-camera", `{"slot":1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecordingRoutes(t *testing.T) {
	router := newControlRouter(t)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/sessions/s1/open", "").Code)

	// Recording without an active camera is rejected.
	w := do(router, http.MethodPost, "/api/sessions/s1/recording/start", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, do(router, http.MethodPut, "/api/sessions/s1/active-camera", `{"slot":1}`).Code)

	w = do(router, http.MethodPost, "/api/sessions/s1/recording/start", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPost, "/api/sessions/s1/recording/start", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPut, "/api/sessions/s1/fallback", `{"on":true,"image_url":"https://img.test/break.png"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPost, "/api/sessions/s1/recording/stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "completed")
}

func TestViewerAndZoomRoutes(t *testing.T) {
	router := newControlRouter(t)
	require.Equal(t, http.StatusOK, do(router, http.MethodPost, "/api/sessions/s1/open", "").Code)

	w := do(router, http.MethodPost, "/api/sessions/s1/viewers", `{"slot":2}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "viewer-")

	w = do(router, http.MethodPost, "/api/sessions/s1/cameras/3/zoom", `{"level":1.5}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPost, "/api/sessions/s1/cameras/9/zoom", `{"level":1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
