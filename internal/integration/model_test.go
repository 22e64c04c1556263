package integration

import (
	"context"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"perceptor/internal/classifier"
	"perceptor/pkg/types"
)

// modelService is a scripted perception model served over real gRPC
type modelService struct {
	mu        sync.Mutex
	classify  []map[string]interface{}
	landmarks [][]types.Point
	requests  int
}

// queueClassify scripts the next Classify responses; an empty queue answers
// with no detections
func (m *modelService) queueClassify(responses ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classify = append(m.classify, responses...)
}

func (m *modelService) queueLandmarks(frames ...[]types.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.landmarks = append(m.landmarks, frames...)
}

func (m *modelService) nextClassify() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if len(m.classify) == 0 {
		return map[string]interface{}{"status": "ok", "detections": []interface{}{}}
	}
	resp := m.classify[0]
	m.classify = m.classify[1:]
	return resp
}

func (m *modelService) nextLandmarks() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.landmarks) == 0 {
		return map[string]interface{}{"status": "no_face"}
	}
	pts := m.landmarks[0]
	m.landmarks = m.landmarks[1:]

	points := make([]interface{}, len(pts))
	for i, p := range pts {
		points[i] = map[string]interface{}{"x": p.X, "y": p.Y}
	}
	return map[string]interface{}{"status": "ok", "points": points}
}

func (m *modelService) unary(next func() map[string]interface{}) grpc.MethodHandler {
	return func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		return structpb.NewStruct(next())
	}
}

// startModelService listens on a loopback port and returns its address
func startModelService(t *testing.T) (*modelService, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	model := &modelService{}
	server := grpc.NewServer()
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: classifier.ServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Classify", Handler: model.unary(model.nextClassify)},
			{MethodName: "ExtractLandmarks", Handler: model.unary(model.nextLandmarks)},
		},
	}, model)

	hs := health.NewServer()
	hs.SetServingStatus(classifier.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	go server.Serve(lis)
	t.Cleanup(server.Stop)
	return model, lis.Addr().String()
}

func detection(label string, score float64) map[string]interface{} {
	return map[string]interface{}{
		"status": "ok",
		"detections": []interface{}{
			map[string]interface{}{"label": label, "score": score, "bbox": []interface{}{10.0, 20.0, 110.0, 140.0}},
		},
	}
}
