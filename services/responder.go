package services

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/nsanthan/intervox/backend/models"
	"github.com/nsanthan/intervox/backend/voice"
)

// Apology spoken when the response backend fails mid-turn. The session keeps
// going; the user is asked to repeat rather than being dropped.
const ResponderApology = "I'm sorry, I had trouble processing that. Could you please repeat your answer?"

// ClosingRemark ends an interview once the question list is exhausted.
const ClosingRemark = "That was the last question I had for you. Thank you for taking the time to speak with me today. We'll review your answers and have feedback ready for you shortly."

// Transitional remarks between interview questions. Which pool applies
// depends on how substantial the candidate's previous answer was.
var (
	briefAckRemarks = []string{
		"Thank you.",
		"I see.",
		"Alright, let's keep going.",
		"Okay, moving on.",
	}
	detailedAckRemarks = []string{
		"I appreciate your detailed response.",
		"You've made some good points there.",
		"That's a thoughtful answer. Let's continue.",
		"Thank you for sharing that. Here's your next question.",
		"Great answer! Let's move on to the next question.",
	}
)

const detailedAnswerChars = 80

const generateSystemPrompt = `You are a friendly assistant helping someone design a mock interview over voice.
Your goal is to learn four things through natural conversation: the job role, the seniority level (entry-level, mid-level, or senior-level), the main technologies involved, and how many questions they want.
Ask about one missing detail at a time. Acknowledge what they tell you before asking the next thing.
Keep every reply to one or two short spoken sentences. Plain text only: no markdown, no bullet points, no special characters.
Once you know all four details, confirm them back and tell the user they can end the call to generate their interview.`

// ConversationResponder produces the assistant's next utterance. Interview
// turns are composed locally so question order never depends on a model;
// generation turns go through the text backend.
type ConversationResponder struct {
	generator TextGenerator

	mu         sync.Mutex
	lastRemark string
}

func NewConversationResponder(generator TextGenerator) *ConversationResponder {
	return &ConversationResponder{generator: generator}
}

// NextUtterance never fails: any backend error is absorbed into a spoken
// apology so the conversation loop keeps its rhythm.
func (r *ConversationResponder) NextUtterance(ctx context.Context, req voice.ResponseRequest) (string, error) {
	if req.Mode == models.ModeInterview {
		return r.interviewTurn(req), nil
	}
	return r.generateTurn(ctx, req), nil
}

func (r *ConversationResponder) interviewTurn(req voice.ResponseRequest) string {
	if req.QuestionIndex >= len(req.Questions) {
		return ClosingRemark
	}
	remark := r.pickRemark(lastUserAnswer(req.History))
	return remark + " " + req.Questions[req.QuestionIndex]
}

// pickRemark chooses a transitional remark matched to the answer's length
// and never repeats the previous one back to back.
func (r *ConversationResponder) pickRemark(answer string) string {
	pool := briefAckRemarks
	if len(answer) >= detailedAnswerChars {
		pool = detailedAckRemarks
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := len(answer) % len(pool)
	if pool[idx] == r.lastRemark {
		idx = (idx + 1) % len(pool)
	}
	r.lastRemark = pool[idx]
	return r.lastRemark
}

func lastUserAnswer(history []models.ConversationMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func (r *ConversationResponder) generateTurn(ctx context.Context, req voice.ResponseRequest) string {
	response, err := r.generator.GenerateChat(ctx, generateSystemPrompt, req.History, GenerateOptions{
		MaxOutputTokens: 150,
		Temperature:     0.7,
	})
	if err != nil {
		slog.Error("Chat generation failed", "error", err)
		return ResponderApology
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return ResponderApology
	}
	return response
}
