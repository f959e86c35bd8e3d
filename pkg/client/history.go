package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mahaj/samvad/pkg/model"
)

// HistoryClient fetches older pages over the plain request/response
// channel. Pages are ascending by server id; the engine dedups on
// prepend, so retrying a page is safe.
type HistoryClient struct {
	baseURL string
	http    *http.Client
}

func NewHistoryClient(baseURL string) *HistoryClient {
	return &HistoryClient{baseURL: baseURL, http: http.DefaultClient}
}

// Page fetches one skip/limit page of persisted messages.
func (c *HistoryClient) Page(ctx context.Context, page, limit int) ([]model.Message, error) {
	url := fmt.Sprintf("%s/api/messages?page=%d&limit=%d", c.baseURL, page, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history fetch: unexpected status %d", resp.StatusCode)
	}

	var msgs []model.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Roster fetches the current user list.
func (c *HistoryClient) Roster(ctx context.Context) ([]model.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/users", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster fetch: unexpected status %d", resp.StatusCode)
	}

	var users []model.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, err
	}
	return users, nil
}

// Login exchanges a display name for a guest token.
func Login(ctx context.Context, baseURL, username string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
