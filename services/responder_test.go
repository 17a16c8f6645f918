package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsanthan/intervox/backend/models"
	"github.com/nsanthan/intervox/backend/voice"
)

type stubGenerator struct {
	reply string
	err   error
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubGenerator) GenerateChat(ctx context.Context, system string, messages []models.ConversationMessage, opts GenerateOptions) (string, error) {
	s.calls++
	return s.reply, s.err
}

func interviewRequest(answer string, questions []string, index int) voice.ResponseRequest {
	return voice.ResponseRequest{
		Mode: models.ModeInterview,
		History: []models.ConversationMessage{
			{Role: models.RoleAssistant, Content: "First question?"},
			{Role: models.RoleUser, Content: answer},
		},
		Questions:     questions,
		QuestionIndex: index,
	}
}

func TestInterviewTurnAppendsNextQuestion(t *testing.T) {
	r := NewConversationResponder(&stubGenerator{})

	out, err := r.NextUtterance(context.Background(),
		interviewRequest("a short one", []string{"Q1?", "What is your greatest strength?"}, 1))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "What is your greatest strength?"), out)
}

func TestInterviewTurnRemarkMatchesAnswerLength(t *testing.T) {
	questions := []string{"Q1?", "Q2?"}
	longAnswer := strings.Repeat("I led the migration of our billing system. ", 4)

	r := NewConversationResponder(&stubGenerator{})
	out, err := r.NextUtterance(context.Background(), interviewRequest(longAnswer, questions, 1))
	require.NoError(t, err)

	remark := strings.TrimSuffix(out, " Q2?")
	assert.Contains(t, detailedAckRemarks, remark)

	r = NewConversationResponder(&stubGenerator{})
	out, err = r.NextUtterance(context.Background(), interviewRequest("yes", questions, 1))
	require.NoError(t, err)
	remark = strings.TrimSuffix(out, " Q2?")
	assert.Contains(t, briefAckRemarks, remark)
}

func TestInterviewTurnNeverRepeatsRemarkConsecutively(t *testing.T) {
	questions := []string{"Q1?", "Q2?", "Q3?", "Q4?", "Q5?"}
	r := NewConversationResponder(&stubGenerator{})

	var prev string
	for i := 1; i < len(questions); i++ {
		// Same answer every turn would otherwise select the same remark.
		out, err := r.NextUtterance(context.Background(), interviewRequest("ok", questions, i))
		require.NoError(t, err)
		remark := strings.TrimSuffix(out, " "+questions[i])
		assert.NotEqual(t, prev, remark, "turn %d", i)
		prev = remark
	}
}

func TestInterviewTurnClosesWhenQuestionsExhausted(t *testing.T) {
	r := NewConversationResponder(&stubGenerator{})

	out, err := r.NextUtterance(context.Background(), interviewRequest("done", []string{"Q1?"}, 1))
	require.NoError(t, err)
	assert.Equal(t, ClosingRemark, out)
}

func TestGenerateTurnUsesTextBackend(t *testing.T) {
	gen := &stubGenerator{reply: "Got it, a backend role. What seniority level is this for?"}
	r := NewConversationResponder(gen)

	out, err := r.NextUtterance(context.Background(), voice.ResponseRequest{
		Mode: models.ModeGenerate,
		History: []models.ConversationMessage{
			{Role: models.RoleUser, Content: "I want questions for a backend engineer position"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, gen.reply, out)
	assert.Equal(t, 1, gen.calls)
}

func TestGenerateTurnFailureYieldsApologyNotError(t *testing.T) {
	gen := &stubGenerator{err: errors.New("backend unavailable")}
	r := NewConversationResponder(gen)

	out, err := r.NextUtterance(context.Background(), voice.ResponseRequest{Mode: models.ModeGenerate})
	require.NoError(t, err)
	assert.Equal(t, ResponderApology, out)
}
