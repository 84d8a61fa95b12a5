// Package collector delivers heartbeats and motion frames to the remote Collector.
package collector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Capitan-Parrot/distributed-video-system/agent/internal/models"
)

const (
	HeartbeatPath    = "/heartbeat"
	ReceiveImagePath = "/api/receive_image"
	MotionPath       = "/api/motion_detected"

	maxErrorBody = 512
)

// HTTPClient abstracts *http.Client for tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type ManualStatus string

const (
	ManualSuccess      ManualStatus = "success"
	ManualUploadFailed ManualStatus = "upload_failed"
	ManualNotifyFailed ManualStatus = "notify_failed"
)

// ManualResult is the combined outcome of upload followed by notify.
type ManualResult struct {
	Status ManualStatus
	Image  []byte
}

type Client struct {
	baseURL  string
	clientID string
	http     HTTPClient
	encoder  Encoder
	timeout  time.Duration
}

func NewClient(baseURL, clientID string, httpClient HTTPClient, enc Encoder, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     httpClient,
		encoder:  enc,
		timeout:  timeout,
	}
}

// Report encodes the event frame and makes one delivery attempt. The encoded
// image is returned even when delivery fails.
func (c *Client) Report(ctx context.Context, ev *models.MotionEvent) ([]byte, error) {
	img, err := c.encoder.Encode(ev.Frame, ev.Regions)
	if err != nil {
		return nil, err
	}
	return img, c.UploadImage(ctx, img)
}

// ManualReport uploads frame without annotation and then signals the Collector
// to run its own motion pipeline.
func (c *Client) ManualReport(ctx context.Context, frame models.Frame) (ManualResult, error) {
	img, err := c.encoder.Encode(frame, nil)
	if err != nil {
		return ManualResult{Status: ManualUploadFailed}, err
	}
	if err := c.UploadImage(ctx, img); err != nil {
		return ManualResult{Status: ManualUploadFailed, Image: img}, err
	}
	if err := c.NotifyMotion(ctx); err != nil {
		return ManualResult{Status: ManualNotifyFailed, Image: img}, &NotifyError{Err: err}
	}
	return ManualResult{Status: ManualSuccess, Image: img}, nil
}

// Encode exposes the client's encoder for callers that only need the image.
func (c *Client) Encode(frame models.Frame) ([]byte, error) {
	return c.encoder.Encode(frame, nil)
}

func (c *Client) UploadImage(ctx context.Context, jpeg []byte) error {
	return c.post(ctx, ReceiveImagePath, models.ImageUpload{
		ClientID: c.clientID,
		Image:    base64.StdEncoding.EncodeToString(jpeg),
	})
}

func (c *Client) NotifyMotion(ctx context.Context) error {
	return c.post(ctx, MotionPath, models.MotionNotify{ClientID: c.clientID})
}

func (c *Client) SendHeartbeat(ctx context.Context) error {
	return c.post(ctx, HeartbeatPath, models.Heartbeat{ClientID: c.clientID})
}

func (c *Client) Name() string {
	return "collector"
}

type validator interface {
	Validate() error
}

func (c *Client) post(ctx context.Context, path string, payload validator) error {
	endpoint := c.baseURL + path
	if err := payload.Validate(); err != nil {
		return &ReportDeliveryError{Endpoint: endpoint, Err: fmt.Errorf("invalid payload: %w", err)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &ReportDeliveryError{Endpoint: endpoint, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &ReportDeliveryError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ReportDeliveryError{Endpoint: endpoint, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ReportDeliveryError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
