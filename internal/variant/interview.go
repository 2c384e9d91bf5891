package variant

import (
	"strings"
	"time"

	"github.com/parleylabs/parley/internal/session"
)

// InterviewName identifies the mock-interview practice variant.
const InterviewName = "interview"

func interviewRegistration() Registration {
	return Registration{
		Schema: []Field{
			{Name: "candidate_name", Kind: KindString, Required: true},
			{Name: "interview_type", Kind: KindString, Required: true},
			{Name: "job_role", Kind: KindString, Required: true},
			{Name: "experience_level", Kind: KindString, Required: true},
			{Name: "focus_areas", Kind: KindStringList},
			{Name: "gender_preference", Kind: KindString},
			{Name: "target_industry", Kind: KindString},
			{Name: "company_size", Kind: KindString},
			{Name: "interview_format", Kind: KindString},
			{Name: "preparation_level", Kind: KindString},
			{Name: "weak_points", Kind: KindStringList},
			{Name: "practice_goals", Kind: KindStringList},
			{Name: "email", Kind: KindString},
			{Name: "whatsapp", Kind: KindString},
		},
		Prompt: buildInterviewInstructions,
		Timing: session.Schedule{
			Total: 15 * time.Minute,
			Checkpoints: []session.Checkpoint{
				{
					Offset: 450 * time.Second,
					Instruction: "You are halfway through a 15 minute interview. " +
						"Move toward the remaining focus areas; do not mention time.",
				},
				{
					Offset: 810 * time.Second,
					WrapUp: true,
					Instruction: "You've been conducting the interview for 13.5 minutes now. " +
						"Start wrapping up in the next 90 seconds, but don't mention " +
						"time or ending to the candidate yet.",
				},
				{Offset: 15 * time.Minute, Final: true},
			},
		},
		Goodbye: "Provide a brief, warm closing with feedback for the candidate. " +
			"Do NOT mention that time is up or the interview is ending. " +
			"Give one sentence of constructive feedback about their performance, " +
			"then thank them and wish them well. Keep it under 20 seconds.",
	}
}

func buildInterviewInstructions(c Context) string {
	var b strings.Builder
	b.WriteString("You are a professional interviewer conducting a realtime mock " +
		c.String("interview_type") + " interview with " + c.String("candidate_name") +
		" for a " + strings.ReplaceAll(c.String("job_role"), "_", " ") + " role at the " +
		c.String("experience_level") + " level.")

	if industry := c.String("target_industry"); industry != "" {
		b.WriteString(" The target industry is " + industry + ".")
	}
	if size := c.String("company_size"); size != "" {
		b.WriteString(" Frame questions as if hiring at a " + size + " company.")
	}
	if areas := c.StringList("focus_areas"); len(areas) > 0 {
		b.WriteString(" Focus on: " + strings.Join(areas, ", ") + ".")
	}
	if weak := c.StringList("weak_points"); len(weak) > 0 {
		b.WriteString(" The candidate wants extra practice on: " +
			strings.Join(weak, ", ") + "; probe these areas gently.")
	}
	if goals := c.StringList("practice_goals"); len(goals) > 0 {
		b.WriteString(" Their practice goals: " + strings.Join(goals, ", ") + ".")
	}

	b.WriteString(" Ask one question at a time and leave room for the candidate to speak.")
	return b.String()
}
