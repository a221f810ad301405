package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type LoginResult struct {
	Token string `json:"token"`
	Team  string `json:"team"`
}

func (c *Client) Login(ctx context.Context, team, password string) (LoginResult, error) {
	var out LoginResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"team":     team,
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) Dashboard(ctx context.Context, token string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/dashboard", token, nil, &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, token string, limit int) (map[string]any, error) {
	path := "/v1/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, token, nil, &out)
	return out, err
}

func (c *Client) SubmitPlan(ctx context.Context, token string, lines []map[string]any, required map[string]float64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/plans", token, map[string]any{
		"lines":    lines,
		"required": required,
	}, &out)
	return out, err
}

func (c *Client) SubmitPrices(ctx context.Context, token string, lines []map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/prices", token, map[string]any{
		"lines": lines,
	}, &out)
	return out, err
}

// Admin endpoints ride on HTTP basic auth instead of the bearer token.

func (c *Client) AdminState(ctx context.Context, user, pass string) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodGet, "/v1/admin/state", user, pass, nil, &out)
	return out, err
}

func (c *Client) AdminAdvance(ctx context.Context, user, pass string) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, "/v1/admin/rounds/advance", user, pass, map[string]any{}, &out)
	return out, err
}

func (c *Client) AdminReopen(ctx context.Context, user, pass string) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, "/v1/admin/rounds/reopen", user, pass, map[string]any{}, &out)
	return out, err
}

func (c *Client) AdminFinalize(ctx context.Context, user, pass string, round int) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/admin/rounds/%d/finalize", round), user, pass, map[string]any{}, &out)
	return out, err
}

func (c *Client) AdminRoundData(ctx context.Context, user, pass string, round int) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/admin/rounds/%d", round), user, pass, nil, &out)
	return out, err
}

func (c *Client) AdminResetRound(ctx context.Context, user, pass string, round int) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodDelete, fmt.Sprintf("/v1/admin/rounds/%d", round), user, pass, nil, &out)
	return out, err
}

func (c *Client) AdminSetLocked(ctx context.Context, user, pass string, locked bool) (map[string]any, error) {
	path := "/v1/admin/unlock"
	if locked {
		path = "/v1/admin/lock"
	}
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, path, user, pass, map[string]any{}, &out)
	return out, err
}

func (c *Client) AdminCreateTeam(ctx context.Context, user, pass, name, password string, money, stock float64) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, "/v1/admin/teams", user, pass, map[string]any{
		"name":        name,
		"password":    password,
		"money":       money,
		"stock_value": stock,
	}, &out)
	return out, err
}

func (c *Client) AdminSeed(ctx context.Context, user, pass, path string, force bool) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, "/v1/admin/seed", user, pass, map[string]any{
		"path":  path,
		"force": force,
	}, &out)
	return out, err
}

// Do replays a queued command verbatim against the API.
func (c *Client) Do(ctx context.Context, method, path, token string, body map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, token, body, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, token string, in any, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(req, out)
}

func (c *Client) adminRequest(ctx context.Context, method, path, user, pass string, in any, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	req.SetBasicAuth(user, pass)
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
