package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenSearchSink indexes bot events as flat documents, one per event.
// The document id combines the bot id with the event timestamp so
// retried sends overwrite instead of duplicating.
type OpenSearchSink struct {
	client  *http.Client
	baseURL string
	index   string
}

func NewOpenSearchSink(baseURL, index string) *OpenSearchSink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &OpenSearchSink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

func (s *OpenSearchSink) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(newRow(e))
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%s-%d", e.Record.BotID, e.OccurredAt.UnixNano())
	target := fmt.Sprintf("%s/%s/_doc/%s", s.baseURL, s.index, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}
