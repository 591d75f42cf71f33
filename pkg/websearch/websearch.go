// Package websearch 提供按查询检索文本片段的能力，供无状态补全的工具调用使用。
package websearch

import (
	"context"
	"fmt"
	"strings"

	"study-gateway/internal/config"

	"github.com/elastic/go-elasticsearch/v8"
)

// Result 是一条检索结果。
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Client defines the interface for a search backend.
type Client interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// NewClient 按配置选择检索后端；Provider 为空时返回 nil，调用方据此不注册工具。
func NewClient(cfg config.WebSearchConfig, esClient *elasticsearch.Client, indexName string) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, nil
	case "brave":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("websearch: brave provider requires api_key")
		}
		return NewBraveClient(cfg), nil
	case "elasticsearch":
		if esClient == nil {
			return nil, fmt.Errorf("websearch: elasticsearch provider requires an initialized client")
		}
		return NewESClient(esClient, indexName), nil
	default:
		return nil, fmt.Errorf("websearch: unknown provider %q", cfg.Provider)
	}
}

// Format 把结果渲染成可直接喂给模型的文本。
func Format(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, r.Title)
		if r.URL != "" {
			fmt.Fprintf(&sb, "   %s\n", r.URL)
		}
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
