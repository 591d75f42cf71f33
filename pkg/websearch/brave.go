package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"study-gateway/internal/config"
	"study-gateway/pkg/log"
)

type braveClient struct {
	baseURL    string
	apiKey     string
	maxResults int
	client     *http.Client
}

// NewBraveClient 创建一个 Brave 风格的 Web Search API 客户端。
func NewBraveClient(cfg config.WebSearchConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &braveClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxResults: cfg.MaxResults,
		client:     &http.Client{Timeout: timeout},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (c *braveClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 || (c.maxResults > 0 && limit > c.maxResults) {
		limit = c.maxResults
	}
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[WebSearch] 调用检索 API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call search api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[WebSearch] 检索 API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("search api returned non-200 status: %s", resp.Status)
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(results) == limit {
			break
		}
	}
	log.Infof("[WebSearch] 检索完成, query: '%s', 命中: %d", query, len(results))
	return results, nil
}
