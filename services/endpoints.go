package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nsanthan/intervox/backend/models"
	"github.com/nsanthan/intervox/backend/voice"
)

// InterviewReader is the read side of the repository the endpoints need.
type InterviewReader interface {
	QueryInterviews(ctx context.Context, userID string, finalized *bool) ([]models.Interview, error)
	GetInterview(ctx context.Context, id string) (*models.Interview, error)
	GetFeedbackByInterview(ctx context.Context, interviewID, userID string) (*models.Feedback, error)
}

// InterviewEndpoints is the REST surface over interviews, feedback, and the
// text-only chat fallback for clients without a working microphone.
type InterviewEndpoints struct {
	responder  voice.Responder
	generation *GenerationService
	feedback   *FeedbackService
	reader     InterviewReader
}

func NewInterviewEndpoints(responder voice.Responder, generation *GenerationService, feedback *FeedbackService, reader InterviewReader) *InterviewEndpoints {
	return &InterviewEndpoints{
		responder:  responder,
		generation: generation,
		feedback:   feedback,
		reader:     reader,
	}
}

// RegisterRoutes mounts the endpoints on the router.
func (e *InterviewEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/chat", e.ChatHandler)
	r.Post("/generate-interview", e.GenerateInterviewHandler)
	r.Post("/complete-interview", e.CompleteInterviewHandler)
	r.Post("/feedback", e.FeedbackHandler)
	r.Get("/interviews", e.ListInterviewsHandler)
	r.Get("/interviews/{interviewID}", e.GetInterviewHandler)
	r.Get("/interviews/{interviewID}/feedback", e.GetFeedbackHandler)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure is the error shape for endpoints whose success responses carry
// a "success" flag, so clients can branch on one field.
func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// chatRequest accepts both chat body shapes on one route. A body carrying
// "message" is the session form with explicit history and question state;
// a body carrying "messages" is the older whole-transcript form.
type chatRequest struct {
	// Session form.
	Message              string                       `json:"message"`
	ConversationHistory  []models.ConversationMessage `json:"conversationHistory"`
	Type                 string                       `json:"type"`
	Questions            []string                     `json:"questions"`
	CurrentQuestionIndex int                          `json:"currentQuestionIndex"`
	UserName             string                       `json:"userName"`

	// Legacy form.
	Messages []models.ConversationMessage `json:"messages"`
}

// ChatHandler runs one text turn through the same responder the voice
// engine uses.
func (e *InterviewEndpoints) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var request voice.ResponseRequest
	if strings.TrimSpace(req.Message) != "" {
		history := append([]models.ConversationMessage(nil), req.ConversationHistory...)
		history = append(history, models.ConversationMessage{Role: models.RoleUser, Content: req.Message})
		request = voice.ResponseRequest{
			Mode:          chatMode(req.Type),
			History:       history,
			Questions:     req.Questions,
			QuestionIndex: req.CurrentQuestionIndex,
			UserName:      req.UserName,
		}
	} else if len(req.Messages) > 0 {
		request = voice.ResponseRequest{
			Mode:          chatMode(req.Type),
			History:       req.Messages,
			Questions:     req.Questions,
			QuestionIndex: countUserTurns(req.Messages, len(req.Questions)),
		}
		if len(req.Questions) > 0 {
			request.Mode = models.ModeInterview
		}
	} else {
		writeError(w, http.StatusBadRequest, "either message or messages is required")
		return
	}

	response, err := e.responder.NextUtterance(r.Context(), request)
	if err != nil {
		slog.Error("Chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate response")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}

func chatMode(t string) models.Mode {
	if t == string(models.ModeInterview) {
		return models.ModeInterview
	}
	return models.ModeGenerate
}

func countUserTurns(messages []models.ConversationMessage, max int) int {
	count := 0
	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			count++
		}
	}
	if count > max {
		count = max
	}
	return count
}

type generateInterviewRequest struct {
	Role      string   `json:"role"`
	Level     string   `json:"level"`
	Type      string   `json:"type"`
	TechStack []string `json:"techstack"`
	Amount    int      `json:"amount"`
	UserID    string   `json:"userId"`

	// Alternative form: extract the parameters from a conversation
	// transcript instead of taking them directly.
	Conversation []models.ConversationMessage `json:"conversation"`
}

// GenerateInterviewHandler creates an interview, either from explicit
// parameters or from a conversation transcript.
func (e *InterviewEndpoints) GenerateInterviewHandler(w http.ResponseWriter, r *http.Request) {
	var req generateInterviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = IdentityFromContext(r.Context()).UserID
	}

	if len(req.Conversation) > 0 {
		interviewID, err := e.generation.CreateInterviewFromConversation(r.Context(), userID, req.Conversation)
		if err != nil {
			slog.Error("Failed to generate interview from conversation", "error", err)
			writeFailure(w, http.StatusInternalServerError, "failed to save interview")
			return
		}
		interview, err := e.reader.GetInterview(r.Context(), interviewID)
		if err != nil || interview == nil {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "interviewId": interviewID})
			return
		}
		writeInterviewCreated(w, interview)
		return
	}

	if strings.TrimSpace(req.Role) == "" || strings.TrimSpace(req.Level) == "" || strings.TrimSpace(req.Type) == "" {
		writeFailure(w, http.StatusBadRequest, "role, level and type are required")
		return
	}

	interview, err := e.generation.CreateInterview(r.Context(), InterviewParams{
		Role:      req.Role,
		Level:     req.Level,
		Type:      req.Type,
		TechStack: req.TechStack,
		Amount:    req.Amount,
		UserID:    userID,
	})
	if err != nil {
		slog.Error("Failed to generate interview", "error", err)
		writeFailure(w, http.StatusInternalServerError, "failed to save interview")
		return
	}

	writeInterviewCreated(w, interview)
}

func writeInterviewCreated(w http.ResponseWriter, interview *models.Interview) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"interviewId": interview.ID,
		"questions":   interview.QuestionList(),
		"details": map[string]any{
			"role":      interview.Role,
			"level":     interview.Level,
			"type":      interview.Type,
			"techstack": interview.TechStackList(),
			"amount":    interview.Amount,
		},
	})
}

// CompleteInterviewHandler marks an interview finalized with no feedback.
func (e *InterviewEndpoints) CompleteInterviewHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InterviewID string `json:"interviewId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InterviewID == "" {
		writeFailure(w, http.StatusBadRequest, "interviewId is required")
		return
	}

	if err := e.generation.CompleteWithoutFeedback(r.Context(), req.InterviewID); err != nil {
		slog.Error("Failed to complete interview", "error", err, "interview_id", req.InterviewID)
		writeFailure(w, http.StatusInternalServerError, "failed to complete interview")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type feedbackRequest struct {
	InterviewID string                       `json:"interviewId"`
	UserID      string                       `json:"userId"`
	FeedbackID  string                       `json:"feedbackId"`
	Transcript  []models.ConversationMessage `json:"transcript"`
}

// FeedbackHandler scores a transcript for an interview taken outside the
// live voice flow.
func (e *InterviewEndpoints) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.InterviewID == "" {
		writeFailure(w, http.StatusBadRequest, "interviewId is required")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = IdentityFromContext(r.Context()).UserID
	}

	feedbackID, err := e.feedback.CreateFeedback(r.Context(), req.InterviewID, userID, req.FeedbackID, req.Transcript)
	if err != nil {
		slog.Error("Failed to create feedback", "error", err, "interview_id", req.InterviewID)
		writeFailure(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "feedbackId": feedbackID})
}

// ListInterviewsHandler returns the caller's interviews, optionally filtered
// by finalized state, newest first.
func (e *InterviewEndpoints) ListInterviewsHandler(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())

	var finalized *bool
	switch r.URL.Query().Get("finalized") {
	case "true":
		v := true
		finalized = &v
	case "false":
		v := false
		finalized = &v
	}

	interviews, err := e.reader.QueryInterviews(r.Context(), identity.UserID, finalized)
	if err != nil {
		slog.Error("Failed to list interviews", "error", err, "user_id", identity.UserID)
		writeError(w, http.StatusInternalServerError, "failed to list interviews")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interviews": interviews})
}

// GetInterviewHandler returns one interview by ID.
func (e *InterviewEndpoints) GetInterviewHandler(w http.ResponseWriter, r *http.Request) {
	interviewID := chi.URLParam(r, "interviewID")

	interview, err := e.reader.GetInterview(r.Context(), interviewID)
	if err != nil {
		slog.Error("Failed to load interview", "error", err, "interview_id", interviewID)
		writeError(w, http.StatusInternalServerError, "failed to load interview")
		return
	}
	if interview == nil {
		writeError(w, http.StatusNotFound, "interview not found")
		return
	}
	writeJSON(w, http.StatusOK, interview)
}

// GetFeedbackHandler returns the caller's latest feedback for an interview.
func (e *InterviewEndpoints) GetFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	interviewID := chi.URLParam(r, "interviewID")
	identity := IdentityFromContext(r.Context())

	feedback, err := e.reader.GetFeedbackByInterview(r.Context(), interviewID, identity.UserID)
	if err != nil {
		slog.Error("Failed to load feedback", "error", err, "interview_id", interviewID)
		writeError(w, http.StatusInternalServerError, "failed to load feedback")
		return
	}
	if feedback == nil {
		writeError(w, http.StatusNotFound, "feedback not found")
		return
	}
	writeJSON(w, http.StatusOK, feedback)
}
