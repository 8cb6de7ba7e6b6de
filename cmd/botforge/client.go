package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// APIClient talks to a running botforge daemon over its HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://localhost:8080/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// botView mirrors the wire shapes of the daemon's status and list endpoints.
type botView struct {
	BotID         string  `json:"bot_id"`
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	PID           int     `json:"pid"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	ErrorMessage  string  `json:"error_message"`
}

func (c *APIClient) StatusAll() ([]botView, error) {
	var out []botView
	if err := c.getJSON(c.baseURL+"/bots/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) ListForUser(userID string) ([]botView, error) {
	var out []botView
	if err := c.getJSON(c.baseURL+"/bots?user_id="+url.QueryEscape(userID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *APIClient) Stop(name, botID string, force bool) error {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if botID != "" {
		q.Set("bot_id", botID)
	}
	if force {
		q.Set("force", "1")
	}
	resp, err := c.client.Post(c.baseURL+"/bots/stop?"+q.Encode(), "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func (c *APIClient) getJSON(rawURL string, out any) error {
	resp, err := c.client.Get(rawURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	return fmt.Errorf("API error: %s", e.Error)
}
