package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsanthan/intervox/backend/models"
)

type memoryStore struct {
	interviews []*models.Interview
	feedbacks  []*models.Feedback
	finalized  []string
	createErr  error
	saveErr    error
	byID       map[string]*models.Interview
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byID: make(map[string]*models.Interview)}
}

func (m *memoryStore) CreateInterview(ctx context.Context, interview *models.Interview) error {
	if m.createErr != nil {
		return m.createErr
	}
	if interview.ID == "" {
		interview.ID = "iv-generated"
	}
	m.interviews = append(m.interviews, interview)
	m.byID[interview.ID] = interview
	return nil
}

func (m *memoryStore) GetInterview(ctx context.Context, id string) (*models.Interview, error) {
	return m.byID[id], nil
}

func (m *memoryStore) SaveFeedback(ctx context.Context, feedback *models.Feedback) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if feedback.ID == "" {
		feedback.ID = "fb-generated"
	}
	m.feedbacks = append(m.feedbacks, feedback)
	return nil
}

func (m *memoryStore) FinalizeInterview(ctx context.Context, id string) error {
	m.finalized = append(m.finalized, id)
	return nil
}

func TestNormalizeDefaultsEveryField(t *testing.T) {
	params := InterviewParams{}.Normalize()

	assert.Equal(t, "Software Developer", params.Role)
	assert.Equal(t, "mid-level", params.Level)
	assert.Equal(t, "mixed", params.Type)
	assert.Equal(t, []string{"JavaScript", "React"}, params.TechStack)
	assert.Equal(t, 5, params.Amount)
}

func TestNormalizeLevelAndTypeAliases(t *testing.T) {
	tests := []struct {
		in, wantLevel string
	}{
		{"junior", "entry-level"},
		{"Entry", "entry-level"},
		{"senior", "senior-level"},
		{"staff", "senior-level"},
		{"mid", "mid-level"},
		{"nonsense", "mid-level"},
	}
	for _, tt := range tests {
		got := InterviewParams{Level: tt.in}.Normalize().Level
		assert.Equal(t, tt.wantLevel, got, tt.in)
	}

	assert.Equal(t, "behavioral", InterviewParams{Type: "Behavioural"}.Normalize().Type)
	assert.Equal(t, "mixed", InterviewParams{Type: "whatever"}.Normalize().Type)
	assert.Equal(t, 10, InterviewParams{Amount: 50}.Normalize().Amount)
}

func TestCreateInterviewExactCountFromWellFormedResponse(t *testing.T) {
	gen := &stubGenerator{reply: `Here are your questions:
["What drew you to frontend work?", "How do you manage state in a large React application?", "Describe your TypeScript migration experience in detail.", "How do you approach performance profiling in the browser?", "Tell me about a complex UI you shipped recently.", "How do you test React components effectively for production?", "What does good code review look like to you?", "How do you keep up with the React ecosystem?"]`}
	store := newMemoryStore()
	svc := NewGenerationService(gen, store)

	interview, err := svc.CreateInterview(context.Background(), InterviewParams{
		Role:      "Senior Frontend Developer",
		Level:     "senior",
		Type:      "mixed",
		TechStack: []string{"React", "TypeScript"},
		Amount:    8,
		UserID:    "u-1",
	})
	require.NoError(t, err)

	questions := interview.QuestionList()
	assert.Len(t, questions, 8)
	assert.Equal(t, "senior-level", interview.Level)
	assert.Equal(t, "Senior Frontend Developer", interview.Role)
	assert.Len(t, store.interviews, 1)
}

func TestCreateInterviewTopsUpShortResponse(t *testing.T) {
	gen := &stubGenerator{reply: `["Only one usable question about Go services?"]`}
	svc := NewGenerationService(gen, newMemoryStore())

	interview, err := svc.CreateInterview(context.Background(), InterviewParams{
		Role: "Backend Engineer", TechStack: []string{"Go"}, Amount: 5, Type: "mixed",
	})
	require.NoError(t, err)

	questions := interview.QuestionList()
	require.Len(t, questions, 5)
	assert.Equal(t, "Only one usable question about Go services?", questions[0])
	seen := make(map[string]bool)
	for _, q := range questions {
		assert.False(t, seen[q], "duplicate question %q", q)
		seen[q] = true
	}
}

func TestCreateInterviewSurvivesBackendFailure(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model unavailable")}
	svc := NewGenerationService(gen, newMemoryStore())

	interview, err := svc.CreateInterview(context.Background(), InterviewParams{Amount: 4})
	require.NoError(t, err)

	questions := interview.QuestionList()
	assert.Len(t, questions, 4)
}

func TestCreateInterviewTruncatesOverlongResponse(t *testing.T) {
	gen := &stubGenerator{reply: `["Question number one is long enough?", "Question number two is long enough?", "Question number three is long enough?", "Question number four is long enough?"]`}
	svc := NewGenerationService(gen, newMemoryStore())

	interview, err := svc.CreateInterview(context.Background(), InterviewParams{Amount: 2})
	require.NoError(t, err)

	questions := interview.QuestionList()
	assert.Len(t, questions, 2)
}

func TestParseQuestionsLineFallback(t *testing.T) {
	raw := `Sure! Here are the questions:
1. How do you structure a large Go codebase?
2) What is your experience with Postgres indexing?
- Describe a production incident you handled.
ok
3. *How* do you test concurrent code?`

	questions := parseQuestions(raw)

	assert.Contains(t, questions, "How do you structure a large Go codebase?")
	assert.Contains(t, questions, "What is your experience with Postgres indexing?")
	assert.Contains(t, questions, "Describe a production incident you handled.")
	// Short fragments are dropped, voice-breaking characters stripped.
	assert.NotContains(t, questions, "ok")
	assert.Contains(t, questions, "How do you test concurrent code?")
}

func TestCreateInterviewFromConversationUsesExtractedParams(t *testing.T) {
	gen := &sequenceGenerator{replies: []string{
		`{"role": "Data Engineer", "level": "senior", "type": "technical", "techstack": ["Python", "Spark"], "amount": 3}`,
		`["How do you partition large Spark jobs effectively?", "Describe a slow pipeline you optimized end to end.", "How do you validate data quality in production?"]`,
	}}
	store := newMemoryStore()
	svc := NewGenerationService(gen, store)

	id, err := svc.CreateInterviewFromConversation(context.Background(), "u-9", []models.ConversationMessage{
		{Role: models.RoleUser, Content: "I'm interviewing for a senior data engineering role using Python and Spark"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	interview := store.byID[id]
	require.NotNil(t, interview)
	assert.Equal(t, "Data Engineer", interview.Role)
	assert.Equal(t, "senior-level", interview.Level)
	assert.Equal(t, "technical", interview.Type)
	assert.Equal(t, 3, interview.Amount)
	assert.Equal(t, "u-9", interview.UserID)
}

func TestCreateInterviewFromConversationFallsBackToDefaults(t *testing.T) {
	gen := &sequenceGenerator{replies: []string{
		"I could not figure out the details, sorry!",
		"no questions from me either",
	}}
	store := newMemoryStore()
	svc := NewGenerationService(gen, store)

	id, err := svc.CreateInterviewFromConversation(context.Background(), "u-2", nil)
	require.NoError(t, err)

	interview := store.byID[id]
	require.NotNil(t, interview)
	assert.Equal(t, "Software Developer", interview.Role)
	assert.Equal(t, "mid-level", interview.Level)
	assert.Equal(t, "mixed", interview.Type)
	assert.Equal(t, 5, interview.Amount)

	questions := interview.QuestionList()
	assert.Len(t, questions, 5)
}

// sequenceGenerator returns canned replies in order.
type sequenceGenerator struct {
	replies []string
	next    int
}

func (s *sequenceGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if s.next >= len(s.replies) {
		return "", errors.New("no more replies")
	}
	reply := s.replies[s.next]
	s.next++
	return reply, nil
}

func (s *sequenceGenerator) GenerateChat(ctx context.Context, system string, messages []models.ConversationMessage, opts GenerateOptions) (string, error) {
	return s.Generate(ctx, "", opts)
}
