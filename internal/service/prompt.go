package service

import (
	"fmt"
	"strings"

	"study-gateway/internal/model"
)

const noraInstructions = `You are Nora, an advanced AI study assistant for university students.
You help students understand course material, build study plans, prepare for exams and analyze their documents.

When a document is active:
- Ground your answers in the document and say which part you are using.
- Offer summaries, study guides and practice questions built from it.

Style:
- Clear, structured answers with headings or short lists when helpful.
- Encourage active recall and spaced repetition.
- Adapt depth to the student's level and stated goals.
- Never invent citations. If you are unsure, say so.`

const patrickInstructions = `You are Patrick, a friendly and motivating study coach.
You help students stay focused, beat procrastination and keep their study habits on track.

Strengths:
- Focus techniques, session planning and habit building.
- Motivation and accountability based on the student's own progress.

Style:
- Warm, concise and practical. Prefer one concrete next step over a long list.
- Reference the student's stats and recent activity when it helps.

Boundaries:
- You cannot read or analyze documents. For PDFs, study guides from files or deep academic analysis,
  mention that Nora AI on the Pro plan can help.`

// Instructions 返回助手的固定系统指令。
func Instructions(assistant string) string {
	if assistant == model.AssistantPatrick {
		return patrickInstructions
	}
	return noraInstructions
}

// ProfileContext 把用户画像渲染成每次请求附加的上下文指令。
func ProfileContext(u *UserContext) string {
	var sb strings.Builder
	sb.WriteString("**Student Profile:**\n")
	fmt.Fprintf(&sb, "- Name: %s\n", u.FirstName())
	if u != nil && u.Profile != nil {
		if u.Profile.University != "" {
			fmt.Fprintf(&sb, "- University: %s\n", u.Profile.University)
		}
		if u.Profile.Major != "" {
			fmt.Fprintf(&sb, "- Major: %s\n", u.Profile.Major)
		}
	}
	fmt.Fprintf(&sb, "- Preferred study method: %s\n", u.FocusMethod())
	fmt.Fprintf(&sb, "- Weekly focus goal: %d hours\n", u.WeeklyGoal())

	if u != nil && u.Stats != nil {
		sb.WriteString("\n**Progress:**\n")
		fmt.Fprintf(&sb, "- Level: %d\n", u.Level())
		fmt.Fprintf(&sb, "- Total focus time: %.1f hours\n", float64(u.Stats.TotalFocusTime)/3600)
		fmt.Fprintf(&sb, "- Current streak: %d days (longest %d)\n", u.Stats.CurrentStreak, u.Stats.LongestStreak)
		fmt.Fprintf(&sb, "- Sessions completed: %d\n", u.Stats.SessionsCompleted)
	}
	if u != nil && len(u.Sessions) > 0 {
		var total int
		for _, s := range u.Sessions {
			total += s.DurationSeconds
		}
		fmt.Fprintf(&sb, "- Recent sessions: %d, averaging %d minutes\n", len(u.Sessions), total/len(u.Sessions)/60)
	}
	return sb.String()
}

// BuildContext 拼接每次请求的上下文指令：画像、当前文档以及深度模式的补充信息。
func BuildContext(u *UserContext, attachment *model.Attachment, supplement string) string {
	parts := []string{ProfileContext(u)}
	if attachment != nil {
		parts = append(parts, fmt.Sprintf("**Active Document:** %s", attachment.Title))
	}
	if supplement != "" {
		parts = append(parts, supplement)
	}
	return strings.Join(parts, "\n\n")
}
