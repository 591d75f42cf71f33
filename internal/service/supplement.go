package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"study-gateway/internal/repository"
	"study-gateway/pkg/log"
	"study-gateway/pkg/websearch"

	"golang.org/x/sync/errgroup"
)

// Supplementer 为深度模式收集补充上下文：近期使用情况，以及命中研究类关键词时的检索结果。
// 任何一部分失败都只会让该部分缺席。
type Supplementer struct {
	usage      repository.UsageRepository
	search     websearch.Client
	keywords   []string
	maxResults int
	now        func() time.Time
}

// NewSupplementer 创建一个新的 Supplementer。search 可以为 nil。
func NewSupplementer(usage repository.UsageRepository, search websearch.Client, keywords []string, maxResults int) *Supplementer {
	return &Supplementer{usage: usage, search: search, keywords: keywords, maxResults: maxResults, now: time.Now}
}

// NeedsResearch 判断消息是否命中研究/时效性关键词。
func (s *Supplementer) NeedsResearch(message string) bool {
	lower := strings.ToLower(message)
	for _, k := range s.keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// Gather 并发读取近期使用摘要和检索结果，返回拼好的文本，可能为空。
func (s *Supplementer) Gather(ctx context.Context, userID, message string, u *UserContext) string {
	var usagePart, searchPart string
	var g errgroup.Group

	g.Go(func() error {
		usagePart = s.usageSummary(ctx, userID, u)
		return nil
	})
	if s.search != nil && s.NeedsResearch(message) {
		g.Go(func() error {
			results, err := s.search.Search(ctx, message, s.maxResults)
			if err != nil {
				log.Warnw("深度模式检索失败，忽略检索上下文", "userID", userID, "error", err)
				return nil
			}
			if len(results) > 0 {
				searchPart = "**Web Research:**\n" + websearch.Format(results)
			}
			return nil
		})
	}
	_ = g.Wait()

	var parts []string
	for _, p := range []string{usagePart, searchPart} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (s *Supplementer) usageSummary(ctx context.Context, userID string, u *UserContext) string {
	since := ledgerDate(s.now().AddDate(0, 0, -6))
	rows, err := s.usage.Summary(ctx, userID, since)
	if err != nil {
		log.Warnw("读取近期用量失败，忽略用量上下文", "userID", userID, "error", err)
		return ""
	}

	var sb strings.Builder
	sb.WriteString("**Recent Activity (7 days):**\n")
	activeDays := map[string]struct{}{}
	var messages int
	for _, r := range rows {
		messages += r.MessagesSent
		if r.MessagesSent > 0 {
			activeDays[r.Date] = struct{}{}
		}
	}
	fmt.Fprintf(&sb, "- AI messages: %d across %d active days\n", messages, len(activeDays))
	if u != nil && len(u.Sessions) > 0 {
		var total int
		for _, fs := range u.Sessions {
			total += fs.DurationSeconds
		}
		fmt.Fprintf(&sb, "- Recent focus sessions: %d totaling %d minutes\n", len(u.Sessions), total/60)
	}
	if u != nil && u.Stats != nil {
		fmt.Fprintf(&sb, "- Current streak: %d days\n", u.Stats.CurrentStreak)
	}
	return strings.TrimRight(sb.String(), "\n")
}
