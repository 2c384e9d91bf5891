package variant

import (
	"strings"
	"time"

	"github.com/parleylabs/parley/internal/session"
)

// TutorName identifies the spoken-English tutoring variant. It is the
// default variant for payloads that declare no agentType.
const TutorName = "tutor"

func tutorRegistration() Registration {
	return Registration{
		Default: true,
		Schema: []Field{
			{Name: "student_name", Kind: KindString, Required: true},
			{Name: "proficiency_level", Kind: KindString},
			{Name: "gender_preference", Kind: KindString},
			{Name: "speaking_speed", Kind: KindString},
			{Name: "interests", Kind: KindStringList},
			{Name: "comfortable_language", Kind: KindString},
			{Name: "tutor_styles", Kind: KindStringList},
			{Name: "correction_preference", Kind: KindString},
			{Name: "email", Kind: KindString},
			{Name: "whatsapp", Kind: KindString},
		},
		Prompt: buildTutorInstructions,
		Timing: session.Schedule{
			Total: 5 * time.Minute,
			Checkpoints: []session.Checkpoint{
				{
					Offset: 3 * time.Minute,
					Instruction: "You are 3 minutes into a 5 minute lesson. " +
						"Keep the conversation flowing; do not mention time to the student.",
				},
				{
					Offset: 270 * time.Second,
					WrapUp: true,
					Instruction: "You've been conversing for 4.5 minutes now. " +
						"Start wrapping up the conversation naturally in the next " +
						"30 seconds, but don't mention time or ending to the student yet.",
				},
				{Offset: 5 * time.Minute, Final: true},
			},
		},
		Goodbye: "Provide a brief, warm closing with feedback for the student. " +
			"Do NOT mention that time is up or that the session is ending. " +
			"Keep it under 20 seconds.",
	}
}

func buildTutorInstructions(c Context) string {
	var b strings.Builder
	b.WriteString("You are an expert spoken English tutor conducting a realtime voice lesson")
	if name := c.String("student_name"); name != "" {
		b.WriteString(" with ")
		b.WriteString(name)
	}
	b.WriteString(".")

	if level := c.String("proficiency_level"); level != "" {
		b.WriteString(" The student's proficiency level is " + level + ";" +
			" pitch vocabulary and pacing accordingly.")
	}
	if speed := c.String("speaking_speed"); speed != "" && speed != "normal" {
		b.WriteString(" They prefer a " + strings.ReplaceAll(speed, "_", " ") + " speaking pace.")
	}
	if lang := c.String("comfortable_language"); lang != "" {
		b.WriteString(" If they get stuck, you may briefly clarify in " + lang +
			" before returning to English.")
	}
	if pref := c.String("correction_preference"); pref != "" {
		b.WriteString(" Correction preference: " + strings.ReplaceAll(pref, "_", " ") + ".")
	}
	if interests := c.StringList("interests"); len(interests) > 0 {
		b.WriteString(" Draw conversation topics from their interests: " +
			strings.Join(interests, ", ") + ".")
	}
	if styles := c.StringList("tutor_styles"); len(styles) > 0 {
		b.WriteString(" Teaching style: " + strings.Join(styles, ", ") + ".")
	}

	b.WriteString(" Keep turns short and conversational; this is a voice call, not a lecture.")
	return b.String()
}
