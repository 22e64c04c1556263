// Package metrics keeps lock-free process counters for the health endpoint.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics counts frames, verdicts and connections across all sessions
type Metrics struct {
	totalFrames    atomic.Int64
	totalErrors    atomic.Int64
	totalLatency   atomic.Int64
	droppedFrames  atomic.Int64
	limitedFrames  atomic.Int64
	verdicts       atomic.Int64
	alertFrames    atomic.Int64
	livenessPasses atomic.Int64
	lastFrameTime  atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64
}

func New() *Metrics {
	return &Metrics{}
}

// ObserveFrame records one classified frame and its pipeline latency
func (m *Metrics) ObserveFrame(latency time.Duration) {
	m.totalFrames.Add(1)
	m.totalLatency.Add(latency.Milliseconds())
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) IncrementErrors() {
	m.totalErrors.Add(1)
}

// IncrementDropped counts frames that arrived after the end signal
func (m *Metrics) IncrementDropped() {
	m.droppedFrames.Add(1)
}

func (m *Metrics) IncrementRateLimited() {
	m.limitedFrames.Add(1)
}

func (m *Metrics) IncrementVerdicts() {
	m.verdicts.Add(1)
}

func (m *Metrics) IncrementAlertFrames() {
	m.alertFrames.Add(1)
}

func (m *Metrics) IncrementLivenessPasses() {
	m.livenessPasses.Add(1)
}

func (m *Metrics) GetTotalFrames() int64 {
	return m.totalFrames.Load()
}

func (m *Metrics) GetTotalErrors() int64 {
	return m.totalErrors.Load()
}

func (m *Metrics) GetAvgLatency() float64 {
	frames := m.totalFrames.Load()
	if frames == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(frames)
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

// DecrementWebSocketConnections decrements WebSocket connection count
func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

// GetWebSocketConnections returns current WebSocket connections
func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

// IncrementWebSocketMessages increments inbound WebSocket message count
func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

// IncrementWebSocketErrors increments WebSocket error count
func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// Snapshot returns every counter for the health endpoint
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"frames":          m.totalFrames.Load(),
		"errors":          m.totalErrors.Load(),
		"avg_latency_ms":  m.GetAvgLatency(),
		"dropped_frames":  m.droppedFrames.Load(),
		"rate_limited":    m.limitedFrames.Load(),
		"verdicts":        m.verdicts.Load(),
		"alert_frames":    m.alertFrames.Load(),
		"liveness_passes": m.livenessPasses.Load(),
		"last_frame_unix": m.lastFrameTime.Load(),
		"ws_connections":  m.wsConnections.Load(),
		"ws_messages":     m.wsMessages.Load(),
		"ws_errors":       m.wsErrors.Load(),
	}
}
