package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/carebridge/syncengine/internal/errors"
	"github.com/carebridge/syncengine/internal/models"
)

// PushResult is the server's answer to one applied action. Conflict
// results carry the server's current copy so the engine can resolve.
type PushResult struct {
	Data             json.RawMessage
	Conflict         bool
	ServerData       json.RawMessage
	ServerModifiedAt int64
}

// RemoteEndpoint applies queued actions against the backing server.
// Implementations return a TRANSPORT_FAILED error for network and
// server-side failures; those are retryable.
type RemoteEndpoint interface {
	Push(ctx context.Context, deviceID string, action *models.Action) (*PushResult, error)
}

// HTTPEndpoint is the default RemoteEndpoint over the sync HTTP API.
type HTTPEndpoint struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEndpoint creates an endpoint for the given base URL.
func NewHTTPEndpoint(baseURL string) *HTTPEndpoint {
	return &HTTPEndpoint{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type pushRequest struct {
	Action   *models.Action `json:"action"`
	DeviceID string         `json:"device_id"`
}

type pushResponse struct {
	OK               bool            `json:"ok"`
	Data             json.RawMessage `json:"data,omitempty"`
	Conflict         bool            `json:"conflict,omitempty"`
	ServerData       json.RawMessage `json:"server_data,omitempty"`
	ServerModifiedAt int64           `json:"server_modified_at,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Push sends one action to POST /sync/actions.
func (e *HTTPEndpoint) Push(ctx context.Context, deviceID string, action *models.Action) (*PushResult, error) {
	body, err := json.Marshal(pushRequest{Action: action, DeviceID: deviceID})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid,
			"failed to encode push request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/sync/actions", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal,
			"failed to build push request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport,
			"push request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Newf(apperrors.ErrTransport,
			"push rejected with status %d", resp.StatusCode)
	}

	var decoded pushResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport,
			"failed to decode push response", err)
	}

	if decoded.Conflict {
		return &PushResult{
			Conflict:         true,
			ServerData:       decoded.ServerData,
			ServerModifiedAt: decoded.ServerModifiedAt,
		}, nil
	}
	if !decoded.OK {
		msg := decoded.Error
		if msg == "" {
			msg = "server rejected action"
		}
		return nil, apperrors.New(apperrors.ErrSyncFailed, msg)
	}

	return &PushResult{Data: decoded.Data}, nil
}

// Healthy probes the server health endpoint. It reports reachability
// only; any HTTP response counts as online.
func (e *HTTPEndpoint) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

var _ RemoteEndpoint = (*HTTPEndpoint)(nil)
