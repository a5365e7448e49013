package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hyperjump/callmind/internal/models"
)

// apiClient talks to a running callmind server.
type apiClient struct {
	r *resty.Client
}

type apiError struct {
	Error string `json:"error"`
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{r: resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var apiErr apiError
	req := c.r.R().SetContext(ctx).SetResult(out).SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status()
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode(), msg)
	}
	return nil
}

func (c *apiClient) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	var out models.SearchResponse
	if err := c.do(ctx, resty.MethodPost, "/api/v1/search", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Recent(ctx context.Context, limit int) ([]*models.CallRecord, error) {
	var out struct {
		Calls []*models.CallRecord `json:"calls"`
	}
	if err := c.do(ctx, resty.MethodGet, "/api/v1/calls/recent?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

func (c *apiClient) Get(ctx context.Context, callID string) (*models.CallRecord, error) {
	var out models.CallRecord
	if err := c.do(ctx, resty.MethodGet, "/api/v1/calls/"+url.PathEscape(callID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) Status(ctx context.Context) (*statusResponse, error) {
	var out statusResponse
	if err := c.do(ctx, resty.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
