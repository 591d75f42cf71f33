package service

import (
	"errors"
	"testing"
	"time"

	"study-gateway/internal/model"
	"study-gateway/pkg/websearch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupplementer_SearchesOnlyOnResearchKeywords(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	_, err := env.usage.CheckAndIncrement(ctx, repositoryIncrement("u1", model.AssistantNora, now.Add(-48*time.Hour)))
	require.NoError(t, err)

	search := &fakeSearch{results: []websearch.Result{{Title: "Retrieval practice meta-analysis"}}}
	s := NewSupplementer(env.usage, search, []string{"Latest", "studies show"}, 3)
	s.now = func() time.Time { return now }
	u := &UserContext{Stats: &model.LeaderboardStats{CurrentStreak: 4}}

	plain := s.Gather(ctx, "u1", "explain photosynthesis", u)
	assert.Contains(t, plain, "AI messages: 1 across 1 active days")
	assert.Contains(t, plain, "Current streak: 4 days")
	assert.NotContains(t, plain, "Web Research")
	assert.Empty(t, search.queries)

	research := s.Gather(ctx, "u1", "what do the latest findings say?", u)
	assert.Contains(t, research, "Web Research")
	assert.Contains(t, research, "Retrieval practice meta-analysis")
	assert.Equal(t, []string{"what do the latest findings say?"}, search.queries)
}

func TestSupplementer_SearchFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	s := NewSupplementer(env.usage, &fakeSearch{err: errors.New("timeout")}, []string{"research"}, 3)

	out := s.Gather(ctx, "u1", "research on sleep", nil)

	assert.NotContains(t, out, "Web Research")
	assert.Contains(t, out, "Recent Activity")
}
