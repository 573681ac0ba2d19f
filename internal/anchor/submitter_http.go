package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"unum/internal/metadata"
)

// HTTPSubmitter submits metadata documents to an anchoring service over
// HTTP. The service owns the actual chain transaction; the engine only
// needs the transaction reference back.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSubmitter builds a submitter against the given endpoint.
func NewHTTPSubmitter(endpoint string, timeout time.Duration) *HTTPSubmitter {
	return &HTTPSubmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	TxID       string    `json:"txId"`
	AnchoredAt time.Time `json:"anchoredAt"`
}

// Submit posts the document and maps transport failures onto the
// gateway's retry taxonomy: timeouts and 5xx are transient, 4xx are not.
func (s *HTTPSubmitter) Submit(ctx context.Context, doc metadata.Document) (Confirmation, error) {
	payload, err := metadata.Marshal(doc)
	if err != nil {
		return Confirmation{}, fmt.Errorf("encoding document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Confirmation{}, fmt.Errorf("building submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Confirmation{}, fmt.Errorf("submit to %s: %w", s.endpoint, ErrSubmissionTimeout)
		}
		return Confirmation{}, fmt.Errorf("submit to %s: %w", s.endpoint, ErrSubmissionRejected)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Confirmation{}, fmt.Errorf("anchoring service returned %d: %w", resp.StatusCode, ErrSubmissionRejected)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Confirmation{}, fmt.Errorf("anchoring service refused document (%d): %s", resp.StatusCode, body)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Confirmation{}, fmt.Errorf("decoding submit response: %w", err)
	}
	if out.AnchoredAt.IsZero() {
		out.AnchoredAt = time.Now().UTC()
	}
	return Confirmation{TxID: out.TxID, AnchoredAt: out.AnchoredAt}, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// LoopbackSubmitter confirms every document immediately with a synthetic
// transaction ID. Development and in-memory deployments only.
type LoopbackSubmitter struct{}

func (LoopbackSubmitter) Submit(_ context.Context, _ metadata.Document) (Confirmation, error) {
	return Confirmation{
		TxID:       "loopback-" + uuid.NewString(),
		AnchoredAt: time.Now().UTC(),
	}, nil
}
