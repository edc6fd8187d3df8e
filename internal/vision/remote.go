package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Songard/Urbansim-dataset-backend-sub000/internal/monitoring"
)

const (
	// DefaultBatchTimeout bounds one frame round trip on the socket.
	DefaultBatchTimeout = 30 * time.Second

	defaultJPEGQuality = 85
)

// RemoteProvider talks to an inference server over websockets. Each frame is
// JPEG-encoded and sent as one binary message; the server answers with one
// JSON result envelope per frame. Detection and segmentation use separate
// sockets so the two pipeline stages do not serialize each other.
type RemoteProvider struct {
	detectURL    string
	segmentURL   string
	BatchTimeout time.Duration
	JPEGQuality  int

	detectMu  sync.Mutex
	detect    *websocket.Conn
	segmentMu sync.Mutex
	segment   *websocket.Conn
}

// NewRemoteProvider dials the detection endpoint of the inference server at
// host (e.g. "127.0.0.1:8765"). A failed dial here is an initialization
// failure: the caller must not start an assessment without a provider. The
// segmentation socket is dialed lazily on first use.
func NewRemoteProvider(ctx context.Context, host string) (*RemoteProvider, error) {
	detectURL := url.URL{Scheme: "ws", Host: host, Path: "/ws/detect"}
	segmentURL := url.URL{Scheme: "ws", Host: host, Path: "/ws/segment"}

	p := &RemoteProvider{
		detectURL:    detectURL.String(),
		segmentURL:   segmentURL.String(),
		BatchTimeout: DefaultBatchTimeout,
		JPEGQuality:  defaultJPEGQuality,
	}

	conn, err := dial(ctx, p.detectURL)
	if err != nil {
		return nil, fmt.Errorf("dial inference server %s: %w", p.detectURL, err)
	}
	p.detect = conn

	monitoring.Logf("connected to inference server at %s", host)
	return p, nil
}

func dial(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	return conn, err
}

// Close shuts both sockets down.
func (p *RemoteProvider) Close() error {
	p.detectMu.Lock()
	if p.detect != nil {
		p.detect.Close()
		p.detect = nil
	}
	p.detectMu.Unlock()

	p.segmentMu.Lock()
	if p.segment != nil {
		p.segment.Close()
		p.segment = nil
	}
	p.segmentMu.Unlock()
	return nil
}

// DetectBatch sends each image over the detection socket and collects one
// envelope per image. A broken socket is redialed once; a second failure
// fails the whole batch, which the pipeline absorbs as an empty batch.
func (p *RemoteProvider) DetectBatch(ctx context.Context, images []image.Image) ([]DetectionFrameResult, error) {
	p.detectMu.Lock()
	defer p.detectMu.Unlock()

	results := make([]DetectionFrameResult, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := p.roundTrip(ctx, &p.detect, p.detectURL, img)
		if err != nil {
			return nil, fmt.Errorf("detect round trip: %w", err)
		}

		var res DetectionFrameResult
		if err := json.Unmarshal(payload, &res); err != nil {
			res = DetectionFrameResult{Err: fmt.Sprintf("malformed detection response: %v", err)}
		}
		results = append(results, res)
	}
	return results, nil
}

// SegmentBatch sends each image over the segmentation socket and collects
// one envelope per image.
func (p *RemoteProvider) SegmentBatch(ctx context.Context, images []image.Image) ([]SegmentationFrameResult, error) {
	p.segmentMu.Lock()
	defer p.segmentMu.Unlock()

	results := make([]SegmentationFrameResult, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := p.roundTrip(ctx, &p.segment, p.segmentURL, img)
		if err != nil {
			return nil, fmt.Errorf("segment round trip: %w", err)
		}

		var res SegmentationFrameResult
		if err := json.Unmarshal(payload, &res); err != nil {
			res = SegmentationFrameResult{Err: fmt.Sprintf("malformed segmentation response: %v", err)}
		}
		results = append(results, res)
	}
	return results, nil
}

// roundTrip writes one JPEG frame and reads one JSON reply, redialing the
// socket once if the first attempt fails. The caller must hold the mutex
// guarding *conn.
func (p *RemoteProvider) roundTrip(ctx context.Context, conn **websocket.Conn, wsURL string, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.jpegQuality()}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	payload, err := p.exchange(*conn, buf.Bytes())
	if err == nil {
		return payload, nil
	}

	monitoring.Logf("inference socket error, redialing %s: %v", wsURL, err)
	if *conn != nil {
		(*conn).Close()
		*conn = nil
	}
	redialed, derr := dial(ctx, wsURL)
	if derr != nil {
		return nil, fmt.Errorf("redial %s: %w", wsURL, derr)
	}
	*conn = redialed

	return p.exchange(*conn, buf.Bytes())
}

func (p *RemoteProvider) exchange(conn *websocket.Conn, frame []byte) ([]byte, error) {
	if conn == nil {
		return nil, fmt.Errorf("socket not connected")
	}

	deadline := time.Now().Add(p.batchTimeout())
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return nil, err
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return message, nil
}

func (p *RemoteProvider) batchTimeout() time.Duration {
	if p.BatchTimeout <= 0 {
		return DefaultBatchTimeout
	}
	return p.BatchTimeout
}

func (p *RemoteProvider) jpegQuality() int {
	if p.JPEGQuality <= 0 || p.JPEGQuality > 100 {
		return defaultJPEGQuality
	}
	return p.JPEGQuality
}
