package integration

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"perceptor/pkg/types"
)

// streamClient is a camera-side WebSocket client that collects every event
type streamClient struct {
	conn   *websocket.Conn
	events chan *types.Event
	done   chan struct{}

	mu        sync.Mutex
	sessionID string
}

func connect(t *testing.T, baseURL string, kind types.StreamKind) *streamClient {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatal(err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = url.Values{"kind": {string(kind)}}.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	c := &streamClient{
		conn:   conn,
		events: make(chan *types.Event, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(c.close)

	opened := c.waitFor(t, types.EventSessionOpened)
	c.mu.Lock()
	c.sessionID = opened.SessionID
	c.mu.Unlock()
	return c
}

func (c *streamClient) readLoop() {
	defer close(c.done)
	for {
		var e types.Event
		if err := c.conn.ReadJSON(&e); err != nil {
			return
		}
		c.events <- &e
	}
}

func (c *streamClient) id() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *streamClient) sendFrame(t *testing.T, index int) {
	t.Helper()
	msg := map[string]interface{}{
		"type":        types.InboundFrame,
		"image":       "data:image/jpeg;base64," + testJPEG,
		"frame_index": index,
		"request_id":  fmt.Sprintf("req-%d", index),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

func (c *streamClient) end(t *testing.T) *types.StreamSummary {
	t.Helper()
	if err := c.conn.WriteJSON(map[string]string{"type": types.InboundEnd}); err != nil {
		t.Fatalf("Failed to send end: %v", err)
	}
	return c.waitFor(t, types.EventStreamEnd).Summary
}

// waitFor returns the next event of eventType, discarding others
func (c *streamClient) waitFor(t *testing.T, eventType string) *types.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-c.events:
			if e.Type == eventType {
				return e
			}
		case <-c.done:
			// the read loop may close after queuing the wanted event
			for {
				select {
				case e := <-c.events:
					if e.Type == eventType {
						return e
					}
				default:
					t.Fatalf("Connection closed while waiting for %s", eventType)
				}
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", eventType)
		}
	}
}

// collect returns the next n events of eventType
func (c *streamClient) collect(t *testing.T, eventType string, n int) []*types.Event {
	t.Helper()
	events := make([]*types.Event, 0, n)
	for len(events) < n {
		events = append(events, c.waitFor(t, eventType))
	}
	return events
}

func (c *streamClient) close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}

var testJPEG = func() string {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil); err != nil {
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}()
