package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsanthan/intervox/backend/models"
)

func (m *memoryStore) QueryInterviews(ctx context.Context, userID string, finalized *bool) ([]models.Interview, error) {
	var out []models.Interview
	for _, interview := range m.interviews {
		if interview.UserID != userID {
			continue
		}
		if finalized != nil && interview.Finalized != *finalized {
			continue
		}
		out = append(out, *interview)
	}
	return out, nil
}

func (m *memoryStore) GetFeedbackByInterview(ctx context.Context, interviewID, userID string) (*models.Feedback, error) {
	for _, fb := range m.feedbacks {
		if fb.InterviewID == interviewID && fb.UserID == userID {
			return fb, nil
		}
	}
	return nil, nil
}

func testRouter(gen TextGenerator, store *memoryStore) *chi.Mux {
	endpoints := NewInterviewEndpoints(
		NewConversationResponder(gen),
		NewGenerationService(gen, store),
		NewFeedbackService(gen, store),
		store,
	)
	r := chi.NewRouter()
	r.Route("/api", endpoints.RegisterRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestChatHandlerSessionForm(t *testing.T) {
	router := testRouter(&stubGenerator{reply: "And what level is the role?"}, newMemoryStore())

	rec := doJSON(t, router, "POST", "/api/chat", map[string]any{
		"message":             "I'm hiring for a backend position",
		"conversationHistory": []map[string]string{{"role": "assistant", "content": "What role?"}},
		"type":                "generate",
		"userName":            "Sam",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "And what level is the role?", resp["response"])
}

func TestChatHandlerLegacyFormWithQuestions(t *testing.T) {
	router := testRouter(&stubGenerator{}, newMemoryStore())

	rec := doJSON(t, router, "POST", "/api/chat", map[string]any{
		"messages": []map[string]string{
			{"role": "assistant", "content": "Hello, first question: Q1?"},
			{"role": "user", "content": "my answer to the first question"},
		},
		"questions": []string{"Q1?", "Q2?"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// One user turn against two questions: next utterance carries Q2.
	assert.Contains(t, resp["response"], "Q2?")
}

func TestChatHandlerRejectsEmptyBody(t *testing.T) {
	router := testRouter(&stubGenerator{}, newMemoryStore())

	rec := doJSON(t, router, "POST", "/api/chat", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateInterviewHandler(t *testing.T) {
	store := newMemoryStore()
	router := testRouter(&stubGenerator{reply: `["How do you version a REST API cleanly?", "Describe your experience operating Postgres.", "How do you structure Go service packages?", "Tell me about a tough production incident.", "How do you approach load testing?"]`}, store)

	rec := doJSON(t, router, "POST", "/api/generate-interview", map[string]any{
		"role":      "Backend Engineer",
		"level":     "senior",
		"type":      "technical",
		"techstack": []string{"Go", "Postgres"},
		"amount":    5,
		"userId":    "u-1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success     bool     `json:"success"`
		InterviewID string   `json:"interviewId"`
		Questions   []string `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.InterviewID)
	assert.Len(t, resp.Questions, 5)
	require.Len(t, store.interviews, 1)
	assert.Equal(t, "u-1", store.interviews[0].UserID)
}

func TestGenerateInterviewHandlerFromConversation(t *testing.T) {
	store := newMemoryStore()
	gen := &sequenceGenerator{replies: []string{
		`{"role": "Data Engineer", "level": "senior", "type": "technical", "techstack": ["Spark"], "amount": 3}`,
		`["How do you partition large Spark jobs?", "Describe a slow pipeline you optimized.", "How do you validate data quality in production?"]`,
	}}
	router := testRouter(gen, store)

	rec := doJSON(t, router, "POST", "/api/generate-interview", map[string]any{
		"userId": "u-9",
		"conversation": []map[string]string{
			{"role": "user", "content": "I'm preparing for a senior data engineering role using Spark"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success     bool     `json:"success"`
		InterviewID string   `json:"interviewId"`
		Questions   []string `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Len(t, resp.Questions, 3)
	require.Len(t, store.interviews, 1)
	assert.Equal(t, "Data Engineer", store.interviews[0].Role)
	assert.Equal(t, "u-9", store.interviews[0].UserID)
}

func TestGenerateInterviewHandlerValidation(t *testing.T) {
	router := testRouter(&stubGenerator{}, newMemoryStore())

	rec := doJSON(t, router, "POST", "/api/generate-interview", map[string]any{
		"role": "Backend Engineer",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Failures keep the same envelope shape as successes.
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestGenerateInterviewHandlerSaveFailure(t *testing.T) {
	store := newMemoryStore()
	store.createErr = errors.New("connection refused")
	router := testRouter(&stubGenerator{reply: `["A perfectly reasonable question?"]`}, store)

	rec := doJSON(t, router, "POST", "/api/generate-interview", map[string]any{
		"role": "Backend Engineer", "level": "senior", "type": "technical",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "failed to save interview", resp.Error)
}

func TestCompleteInterviewHandler(t *testing.T) {
	store := newMemoryStore()
	router := testRouter(&stubGenerator{}, store)

	rec := doJSON(t, router, "POST", "/api/complete-interview", map[string]any{"interviewId": "iv-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"iv-1"}, store.finalized)

	rec = doJSON(t, router, "POST", "/api/complete-interview", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackHandler(t *testing.T) {
	store := newMemoryStore()
	seededInterview(t, store, []string{"Go"})
	router := testRouter(&stubGenerator{err: errors.New("model down")}, store)

	rec := doJSON(t, router, "POST", "/api/feedback", map[string]any{
		"interviewId": "iv-1",
		"userId":      "u-1",
		"transcript": []map[string]string{
			{"role": "assistant", "content": "Q1?"},
			{"role": "user", "content": "a reasonably substantial answer about Go"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Success    bool   `json:"success"`
		FeedbackID string `json:"feedbackId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.FeedbackID)
	assert.Equal(t, []string{"iv-1"}, store.finalized)
}

func TestGetInterviewHandlerNotFound(t *testing.T) {
	router := testRouter(&stubGenerator{}, newMemoryStore())

	rec := doJSON(t, router, "GET", "/api/interviews/unknown-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetInterviewHandlerReturnsInterview(t *testing.T) {
	store := newMemoryStore()
	seededInterview(t, store, []string{"React"})
	router := testRouter(&stubGenerator{}, store)

	rec := doJSON(t, router, "GET", "/api/interviews/iv-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var interview models.Interview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &interview))
	assert.Equal(t, "iv-1", interview.ID)
	assert.Equal(t, "Frontend Developer", interview.Role)
}

func TestGetFeedbackHandler(t *testing.T) {
	store := newMemoryStore()
	seededInterview(t, store, []string{"Go"})
	store.feedbacks = append(store.feedbacks, &models.Feedback{
		ID: "fb-1", InterviewID: "iv-1", UserID: "u-1", TotalScore: 70,
		CategoryScores: models.CategoryScoresJSON(nil),
	})

	endpoints := NewInterviewEndpoints(NewConversationResponder(&stubGenerator{}), nil, nil, store)
	r := chi.NewRouter()
	r.Route("/api", endpoints.RegisterRoutes)

	req := httptest.NewRequest("GET", "/api/interviews/iv-1/feedback", nil)
	req = req.WithContext(context.WithValue(req.Context(), identityContextKey{}, &Identity{UserID: "u-1"}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var fb models.Feedback
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fb))
	assert.Equal(t, "fb-1", fb.ID)
}

func TestListInterviewsFinalizedFilter(t *testing.T) {
	store := newMemoryStore()
	done := seededInterview(t, store, []string{"Go"})
	done.Finalized = true
	store.interviews = append(store.interviews, done)
	open := &models.Interview{ID: "iv-2", UserID: "u-1", Role: "Frontend Developer", Level: "mid-level", Type: "mixed"}
	store.interviews = append(store.interviews, open)
	store.byID[open.ID] = open

	endpoints := NewInterviewEndpoints(nil, nil, nil, store)
	r := chi.NewRouter()
	r.Route("/api", endpoints.RegisterRoutes)

	req := httptest.NewRequest("GET", "/api/interviews?finalized=true", nil)
	req = req.WithContext(context.WithValue(req.Context(), identityContextKey{}, &Identity{UserID: "u-1"}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Interviews []models.Interview `json:"interviews"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Interviews, 1)
	assert.Equal(t, "iv-1", resp.Interviews[0].ID)
}
