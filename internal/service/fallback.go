package service

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"study-gateway/internal/model"
)

var (
	greetingPattern = regexp.MustCompile(`(?i)\b(hello|hi|hey)\b`)
	focusAdvice     = map[string]string{
		"Balanced Focus": "balanced 25-minute focused sessions with 5-minute breaks",
		"Sprint Focus":   "intense 15-minute sprints with short recovery periods",
		"Deep Work":      "extended 90-minute deep focus blocks with longer breaks",
	}
)

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// FallbackReply 根据消息关键词和用户画像生成模板回复，永远返回非空文本。
func FallbackReply(assistant, message string, u *UserContext, attachment *model.Attachment) string {
	var reply string
	if assistant == model.AssistantPatrick {
		reply = patrickFallback(strings.ToLower(message), u)
	} else {
		reply = noraFallback(strings.ToLower(message), u, attachment)
	}
	if strings.TrimSpace(reply) == "" {
		return fmt.Sprintf("Hi %s! I'm here to help with your studies. What would you like to work on?", u.FirstName())
	}
	return reply
}

func noraFallback(msg string, u *UserContext, attachment *model.Attachment) string {
	name := u.FirstName()
	method := u.FocusMethod()
	goal := u.WeeklyGoal()

	if attachment != nil {
		switch {
		case containsAny(msg, "question", "quiz"):
			return fmt.Sprintf("Great idea, %s! Here is how I'd build practice questions from \"%s\":\n\n"+
				"1. **Recall questions** on the key definitions in each section\n"+
				"2. **Application questions** that use the concepts on a new example\n"+
				"3. **Connection questions** linking ideas across chapters\n\n"+
				"Try answering them in a %s session, then review what you missed.", name, attachment.Title, method)
		case containsAny(msg, "summary", "summarize"):
			return fmt.Sprintf("Here's a study plan for summarizing \"%s\", %s:\n\n"+
				"1. Skim headings and note the main argument of each section\n"+
				"2. Write one sentence per section in your own words\n"+
				"3. Link the sentences into a one-page overview\n\n"+
				"Keep each pass short and focused to fit your %s routine.", attachment.Title, name, method)
		}
	}

	sessions := int(math.Ceil(float64(goal) / 5))
	switch {
	case containsAny(msg, "focus", "concentration"):
		advice, ok := focusAdvice[method]
		if !ok {
			advice = "structured focus periods"
		}
		return fmt.Sprintf("Let's sharpen your focus, %s! With your %s method, aim for %s.\n\n"+
			"To hit your %d-hour weekly goal, plan about %d focused sessions per day. "+
			"Silence notifications, keep one task visible, and write down distractions instead of acting on them.",
			name, method, advice, goal, sessions)
	case containsAny(msg, "plan", "schedule"):
		days := sessions
		perDay := int(math.Round(float64(goal*60) / float64(days)))
		weekday := int(math.Round(float64(goal) * 0.8 / 5 * 60))
		weekend := int(math.Round(float64(goal) * 0.2 / 2 * 60))
		return fmt.Sprintf("Here's a weekly plan for you, %s:\n\n"+
			"- **Goal:** %d hours of focused study using %s\n"+
			"- **Intensive option:** %d study days at about %d minutes each\n"+
			"- **Steady option:** %d minutes each weekday and %d minutes on weekend days\n\n"+
			"Put the hardest subject in your first session of the day and review on the weekend.",
			name, goal, method, days, perDay, weekday, weekend)
	case containsAny(msg, "physics"):
		return fmt.Sprintf("Physics rewards practice, %s! Start from the core principle behind each problem, "+
			"draw a diagram, list knowns and unknowns, and check units at the end. "+
			"Work a few problems per %s session instead of rereading notes.", name, method)
	case containsAny(msg, "motivation", "procrastination", "stuck"):
		return fmt.Sprintf("Feeling stuck happens to everyone, %s. Pick the smallest next step you can finish in 5 minutes "+
			"and start a short %s session now. Progress builds motivation, not the other way around. "+
			"You're working toward %d hours this week and every session counts.", name, method, goal)
	case containsAny(msg, "research", "writing", "paper", "essay"):
		return fmt.Sprintf("Let's make your writing manageable, %s:\n\n"+
			"1. Write your thesis in one sentence\n"+
			"2. Outline three supporting points with a source each\n"+
			"3. Draft one section per %s session without editing\n"+
			"4. Revise in a separate session\n\n"+
			"Breaking it up keeps momentum toward your %d-hour goal.", name, method, goal)
	}

	level := "Student"
	if u != nil && u.Profile != nil && u.Profile.University != "" {
		level = "University Student"
	}
	return fmt.Sprintf("Hello %s! I'm Nora, your AI study assistant. I can help you:\n\n"+
		"- Understand difficult concepts\n"+
		"- Build study plans and schedules\n"+
		"- Create practice questions and summaries\n"+
		"- Improve focus and motivation\n\n"+
		"Your profile: %s method, %d hours weekly goal, %s. What would you like to work on?",
		name, method, goal, level)
}

func patrickFallback(msg string, u *UserContext) string {
	name := u.FirstName()
	switch {
	case containsAny(msg, "focus", "concentrate"):
		return fmt.Sprintf("Let's get you focused, %s! Try the 5-4-3-2-1 technique: notice 5 things you see, 4 you hear, "+
			"3 you can touch, 2 you smell and 1 you taste. Then start a short %s session on just one task.", name, u.FocusMethod())
	case containsAny(msg, "motivation", "procrastination"):
		return fmt.Sprintf("I hear you, %s. Don't wait to feel motivated. What's the smallest next step you could take right now? "+
			"Do that for 5 minutes and let momentum carry you.", name)
	case greetingPattern.MatchString(msg):
		return fmt.Sprintf("Hey %s! Great to see you. Ready to crush some study goals today? "+
			"Tell me what you're working on and we'll make a plan.", name)
	}
	return fmt.Sprintf("Hey %s! I'd love to help you stay on track. I can help with focus techniques, beating procrastination "+
		"and planning your study sessions. What's on your mind?", name)
}
