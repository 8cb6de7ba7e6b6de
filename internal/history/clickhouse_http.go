package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClickHouseHTTPSink inserts bot events through the ClickHouse HTTP
// interface, one JSONEachRow line per event. The row carries the same
// per-bot columns as the native sink, so both can feed one table.
type ClickHouseHTTPSink struct {
	client *http.Client
	base   string // e.g. http://localhost:8123
	table  string
}

func NewClickHouseHTTPSink(baseURL, table string) *ClickHouseHTTPSink {
	c := &http.Client{Timeout: 5 * time.Second}
	return &ClickHouseHTTPSink{client: c, base: strings.TrimRight(baseURL, "/"), table: table}
}

func (s *ClickHouseHTTPSink) Send(ctx context.Context, e Event) error {
	u, err := url.Parse(s.base)
	if err != nil {
		return fmt.Errorf("clickhouse sink url: %w", err)
	}
	q := u.Query()
	q.Set("query", fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", s.table))
	u.RawQuery = q.Encode()

	line, err := json.Marshal(newRow(e))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(append(line, '\n')))
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
		return fmt.Errorf("clickhouse sink status %d", resp.StatusCode)
	}
	return nil
}
