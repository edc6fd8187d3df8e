package vision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// newInferenceServer runs a fake inference backend that answers every
// binary frame on /ws/detect and /ws/segment with the given JSON reply.
func newInferenceServer(t *testing.T, detectReply, segmentReply string) string {
	t.Helper()
	echo := func(reply string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			conn, err := testUpgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				mt, _, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if mt != websocket.BinaryMessage {
					t.Errorf("server received message type %d, want binary", mt)
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
					return
				}
			}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/detect", echo(detectReply))
	mux.HandleFunc("/ws/segment", echo(segmentReply))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestRemoteProviderDetectBatch(t *testing.T) {
	host := newInferenceServer(t,
		`{"detections": [{"box": {"x1": 10, "y1": 10, "x2": 50, "y2": 90}, "class": "person", "confidence": 0.92}]}`,
		`{"segmentations": []}`)

	p, err := NewRemoteProvider(context.Background(), host)
	if err != nil {
		t.Fatalf("NewRemoteProvider: %v", err)
	}
	defer p.Close()

	results, err := p.DetectBatch(context.Background(), testImages(3))
	if err != nil {
		t.Fatalf("DetectBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want one per image", len(results))
	}
	for i, res := range results {
		if res.Err != "" {
			t.Errorf("frame %d: unexpected error %q", i, res.Err)
		}
		if len(res.Detections) != 1 || res.Detections[0].Class != ClassPerson {
			t.Errorf("frame %d: detections = %+v", i, res.Detections)
		}
	}
}

func TestRemoteProviderSegmentBatch(t *testing.T) {
	host := newInferenceServer(t,
		`{"detections": []}`,
		`{"segmentations": [{"box": {"x1": 0, "y1": 0, "x2": 20, "y2": 20}, "class": "dog", "confidence": 0.8, "mask_area": 120, "has_mask": true}]}`)

	p, err := NewRemoteProvider(context.Background(), host)
	if err != nil {
		t.Fatalf("NewRemoteProvider: %v", err)
	}
	defer p.Close()

	results, err := p.SegmentBatch(context.Background(), testImages(2))
	if err != nil {
		t.Fatalf("SegmentBatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	s := results[0].Segmentations[0]
	if s.Class != ClassDog || s.MaskArea != 120 || !s.HasMask {
		t.Errorf("segmentation = %+v", s)
	}
}

func TestRemoteProviderMalformedResponse(t *testing.T) {
	host := newInferenceServer(t, `{not json`, `{}`)

	p, err := NewRemoteProvider(context.Background(), host)
	if err != nil {
		t.Fatalf("NewRemoteProvider: %v", err)
	}
	defer p.Close()

	results, err := p.DetectBatch(context.Background(), testImages(1))
	if err != nil {
		t.Fatalf("a malformed reply must become a per-frame error, not a batch failure: %v", err)
	}
	if results[0].Err == "" {
		t.Error("frame must report the malformed response")
	}
}

func TestNewRemoteProviderDialFailure(t *testing.T) {
	// Port 1 is never listening.
	if _, err := NewRemoteProvider(context.Background(), "127.0.0.1:1"); err == nil {
		t.Error("dial to a closed port must fail")
	}
}

func TestRemoteProviderCancelledContext(t *testing.T) {
	host := newInferenceServer(t, `{}`, `{}`)

	p, err := NewRemoteProvider(context.Background(), host)
	if err != nil {
		t.Fatalf("NewRemoteProvider: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.DetectBatch(ctx, testImages(1)); err == nil {
		t.Error("cancelled context must fail the batch")
	}
}
