package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// WSRelay is a RecordStore implementation talking to an external
// rendezvous relay over plain HTTP (the relay's websocket endpoint is
// used by transport/rendezvous for live presence/signaling traffic; the
// durable record store itself is a simpler request/response contract
// layered on the same host).
type WSRelay struct {
	baseURL string
	client  *http.Client
}

// NewWSRelay builds a WSRelay client pointed at baseURL.
func NewWSRelay(baseURL string) *WSRelay {
	return &WSRelay{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

type uploadRequest struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

// Upload implements RecordStore.
func (w *WSRelay) Upload(ctx context.Context, r Record) error {
	body, err := json.Marshal(uploadRequest{
		MessageID:  r.MessageID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Content:    r.Content,
		Timestamp:  r.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	req, err := newJSONRequest(ctx, http.MethodPost, w.baseURL+"/records", body)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: relay upload returned status %d", types.ErrTransportUnavailable, resp.StatusCode)
	}
	return nil
}

// FetchFor implements RecordStore.
func (w *WSRelay) FetchFor(ctx context.Context, receiverID string) ([]Record, error) {
	req, err := newJSONRequest(ctx, http.MethodGet, w.baseURL+"/records?receiver_id="+receiverID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: relay fetch returned status %d", types.ErrTransportUnavailable, resp.StatusCode)
	}
	var out []uploadRequest
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	records := make([]Record, 0, len(out))
	for _, r := range out {
		records = append(records, Record{
			MessageID:  r.MessageID,
			SenderID:   r.SenderID,
			ReceiverID: r.ReceiverID,
			Content:    r.Content,
			Timestamp:  r.Timestamp,
		})
	}
	return records, nil
}

func newJSONRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
