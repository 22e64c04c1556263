package integration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"perceptor/internal/api"
	"perceptor/internal/app"
	"perceptor/internal/config"
	"perceptor/internal/framestore"
	"perceptor/internal/liveness/facetest"
	"perceptor/pkg/types"
)

type testEnv struct {
	baseURL  string
	model    *modelService
	alertDir string
}

// startServer runs the full application on SQLite against a scripted model
func startServer(t *testing.T) *testEnv {
	t.Helper()
	model, modelAddr := startModelService(t)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Database.Path = filepath.Join(dir, "perceptor.db")
	cfg.Engine.AlertDir = filepath.Join(dir, "alerts")
	cfg.Classifier.Address = modelAddr
	cfg.Classifier.Timeout = 2 * time.Second
	// the full liveness challenge is sent in one burst
	cfg.Engine.FrameRateLimit = 100

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})

	return &testEnv{
		baseURL:  "http://" + application.Addr(),
		model:    model,
		alertDir: cfg.Engine.AlertDir,
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func (e *testEnv) getJSON(t *testing.T, path string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(e.baseURL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("Failed to decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestFaceStream_StrangerVerdictIsPersisted(t *testing.T) {
	env := startServer(t)
	env.model.queueClassify(
		detection("stranger", 0.32),
		detection("stranger", 0.32),
		detection("stranger", 0.32),
	)

	client := connect(t, env.baseURL, types.KindFace)
	for i := 0; i < 3; i++ {
		client.sendFrame(t, i)
	}

	// the bbox echo precedes the decision for each frame
	echo := client.waitFor(t, types.EventDetections)
	if echo.RequestID != "req-0" || len(echo.Detections) != 1 {
		t.Errorf("Unexpected echo %+v", echo)
	}

	results := client.collect(t, types.EventFaceResult, 3)
	if results[0].Verdict != "" || results[1].Verdict != "" {
		t.Error("Verdict emitted before three agreeing frames")
	}
	verdict := results[2]
	if verdict.Verdict != types.LabelStranger || !verdict.Alert {
		t.Fatalf("Expected stranger alert, got %+v", verdict)
	}

	summary := client.end(t)
	if summary == nil || summary.TotalFrames != 3 || summary.AlertFrames != 1 || !summary.Kept {
		t.Fatalf("Unexpected summary %+v", summary)
	}

	var alert api.AlertResponse
	if code := env.getJSON(t, "/api/alerts/"+summary.AlertSessionID, &alert); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if alert.Alert.Status != types.AlertStatusFinal || alert.Alert.TotalFrames != 3 || alert.Alert.AlertFrameCount != 1 {
		t.Errorf("Unexpected alert session %+v", alert.Alert)
	}
	if len(alert.Frames) != 1 {
		t.Fatalf("Expected one alert frame, got %d", len(alert.Frames))
	}
	frame := alert.Frames[0]
	if frame.Label != types.LabelStranger || frame.Confidence != 0.68 || frame.FrameIndex != 2 {
		t.Errorf("Unexpected frame %+v", frame)
	}

	data, err := os.ReadFile(frame.ImagePath)
	if err != nil {
		t.Fatalf("Frame image missing: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(testJPEG)
	if frame.Checksum != framestore.Checksum(data) || frame.Checksum != framestore.Checksum(raw) {
		t.Error("Stored frame does not match the sent image")
	}
}

func TestFaceStream_KnownIdentityKeepsNoRecord(t *testing.T) {
	env := startServer(t)
	env.model.queueClassify(detection("alice", 0.1), detection("alice", 0.1), detection("alice", 0.1))

	client := connect(t, env.baseURL, types.KindFace)
	for i := 0; i < 3; i++ {
		client.sendFrame(t, i)
	}
	results := client.collect(t, types.EventFaceResult, 3)
	if results[2].Verdict != "alice" || results[2].Alert {
		t.Fatalf("Expected non-alert verdict, got %+v", results[2])
	}

	summary := client.end(t)
	if summary.Kept || summary.AlertFrames != 0 {
		t.Errorf("Expected the record to be discarded, got %+v", summary)
	}

	var list api.ListAlertsResponse
	env.getJSON(t, "/api/alerts?kind=face", &list)
	if list.Total != 0 {
		t.Errorf("Expected no face alert sessions, got %d", list.Total)
	}
}

func TestPavementStream_NoDetectionsLeavesNothingBehind(t *testing.T) {
	env := startServer(t)
	client := connect(t, env.baseURL, types.KindPavement)

	for i := 0; i < 10; i++ {
		client.sendFrame(t, i)
	}
	for _, e := range client.collect(t, types.EventPavementResult, 10) {
		if e.Alert || !e.Success {
			t.Errorf("Unexpected pavement result %+v", e)
		}
	}

	summary := client.end(t)
	if summary.TotalFrames != 10 || summary.AlertFrames != 0 || summary.Kept {
		t.Fatalf("Unexpected summary %+v", summary)
	}

	var list api.ListAlertsResponse
	env.getJSON(t, "/api/alerts?kind=pavement", &list)
	if list.Total != 0 {
		t.Errorf("Expected no residual record, got %d", list.Total)
	}
	entries, err := os.ReadDir(filepath.Join(env.alertDir, string(types.KindPavement)))
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no residual directory, found %d", len(entries))
	}
}

func TestPavementStream_DetectionsAreKept(t *testing.T) {
	env := startServer(t)
	env.model.queueClassify(
		detection("pothole", 0.91),
		map[string]interface{}{"status": "ok", "detections": []interface{}{}},
		detection("crack", 0.77),
		map[string]interface{}{"status": "ok", "detections": []interface{}{}},
	)

	client := connect(t, env.baseURL, types.KindPavement)
	for i := 0; i < 4; i++ {
		client.sendFrame(t, i)
	}
	results := client.collect(t, types.EventPavementResult, 4)
	if !results[0].Alert || results[1].Alert || !results[2].Alert || results[3].Alert {
		t.Errorf("Unexpected alert pattern")
	}

	summary := client.end(t)
	if summary.TotalFrames != 4 || summary.AlertFrames != 2 || !summary.Kept {
		t.Fatalf("Unexpected summary %+v", summary)
	}

	var alert api.AlertResponse
	env.getJSON(t, "/api/alerts/"+summary.AlertSessionID, &alert)
	if len(alert.Frames) != 2 || alert.Frames[0].Label != "pothole" || alert.Frames[1].Label != "crack" {
		t.Errorf("Unexpected frames %+v", alert.Frames)
	}
	if len(alert.Frames) > 0 && len(alert.Frames[0].BBoxes) != 1 {
		t.Errorf("Expected bbox stored with the frame")
	}
}

func TestLivenessStream_FullChallengePasses(t *testing.T) {
	env := startServer(t)
	frames := facetest.FullChallenge()
	env.model.queueLandmarks(frames...)

	client := connect(t, env.baseURL, types.KindLiveness)
	for i := range frames {
		client.sendFrame(t, i)
	}

	passed := false
	for _, e := range client.collect(t, types.EventLivenessProgress, len(frames)) {
		if e.Liveness == nil {
			t.Fatalf("Progress event without liveness payload: %+v", e)
		}
		passed = passed || e.Liveness.Passed
	}
	if !passed {
		t.Error("Challenge never passed")
	}

	// no landmarks left: the model reports no face
	client.sendFrame(t, len(frames))
	if e := client.waitFor(t, types.EventLivenessProgress); e.Success {
		t.Errorf("Expected no-face progress, got %+v", e)
	}

	client.end(t)
	var list api.ListAlertsResponse
	env.getJSON(t, "/api/alerts", &list)
	if list.Total != 0 {
		t.Errorf("Liveness streams keep no alert records, found %d", list.Total)
	}
}

func TestStream_ModelErrorDoesNotEndStream(t *testing.T) {
	env := startServer(t)
	env.model.queueClassify(
		map[string]interface{}{"status": "error", "message": "model crashed"},
		detection("bob", 0.2),
	)

	client := connect(t, env.baseURL, types.KindFace)
	client.sendFrame(t, 0)
	if e := client.waitFor(t, types.EventError); e.Message != "model crashed" || e.RequestID != "req-0" {
		t.Errorf("Unexpected error event %+v", e)
	}

	client.sendFrame(t, 1)
	if e := client.waitFor(t, types.EventFaceResult); !e.Success {
		t.Errorf("Expected the stream to keep working, got %+v", e)
	}
}

func TestStream_ServerSideEnd(t *testing.T) {
	env := startServer(t)
	client := connect(t, env.baseURL, types.KindPavement)

	var sessions api.ListSessionsResponse
	env.getJSON(t, "/api/sessions", &sessions)
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].ID != client.id() {
		t.Fatalf("Expected the live session listed, got %+v", sessions.Sessions)
	}

	req, _ := http.NewRequest(http.MethodDelete, env.baseURL+"/api/sessions/"+client.id(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	if e := client.waitFor(t, types.EventStreamEnd); e.Summary == nil {
		t.Error("stream_end without summary")
	}

	// frames after the end signal are dropped silently
	requests := func() int {
		env.model.mu.Lock()
		defer env.model.mu.Unlock()
		return env.model.requests
	}
	before := requests()
	client.sendFrame(t, 0)
	time.Sleep(100 * time.Millisecond)
	if requests() != before {
		t.Error("Frame after end reached the model")
	}

	env.getJSON(t, "/api/sessions", &sessions)
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].Accepting {
		t.Errorf("Expected a non-accepting session, got %+v", sessions.Sessions)
	}

	client.close()
	waitFor(t, func() bool {
		var s api.ListSessionsResponse
		env.getJSON(t, "/api/sessions", &s)
		return len(s.Sessions) == 0
	})
}

func TestStream_ConcurrentSessionsAreIsolated(t *testing.T) {
	env := startServer(t)
	a := connect(t, env.baseURL, types.KindPavement)
	b := connect(t, env.baseURL, types.KindPavement)

	for i := 0; i < 5; i++ {
		a.sendFrame(t, i)
		b.sendFrame(t, i)
	}
	for _, c := range []*streamClient{a, b} {
		for i, e := range c.collect(t, types.EventPavementResult, 5) {
			if e.SessionID != c.id() || e.FrameIndex == nil || *e.FrameIndex != i {
				t.Errorf("Out of order or foreign event %+v", e)
			}
		}
	}

	if sa, sb := a.end(t), b.end(t); sa.TotalFrames != 5 || sb.TotalFrames != 5 {
		t.Errorf("Unexpected totals %d and %d", sa.TotalFrames, sb.TotalFrames)
	}
}
