package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"study-gateway/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ESDocument 是学习资料索引中的一条文档。
type ESDocument struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

const maxSnippetRunes = 300

type esClient struct {
	client *elasticsearch.Client
	index  string
}

// NewESClient 创建基于 Elasticsearch 学习资料索引的检索后端。
func NewESClient(client *elasticsearch.Client, index string) Client {
	return &esClient{client: client, index: index}
}

func (c *esClient) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}
	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "content"},
			},
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"content": map[string]interface{}{"fragment_size": 200, "number_of_fragments": 1},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(c.index),
		c.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[WebSearch] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("es search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("es search returned %s: %s", res.Status(), string(b))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source    ESDocument          `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]Result, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		snippet := h.Source.Content
		if frags := h.Highlight["content"]; len(frags) > 0 {
			snippet = frags[0]
		}
		results = append(results, Result{Title: h.Source.Title, URL: h.Source.URL, Snippet: clipRunes(snippet, maxSnippetRunes)})
	}
	return results, nil
}

// clipRunes 按字符截断，避免切断多字节字符。
func clipRunes(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
