package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nsanthan/intervox/backend/models"
)

// FeedbackStore is the slice of the repository the feedback service needs.
type FeedbackStore interface {
	GetInterview(ctx context.Context, interviewID string) (*models.Interview, error)
	SaveFeedback(ctx context.Context, feedback *models.Feedback) error
	FinalizeInterview(ctx context.Context, interviewID string) error
}

// FeedbackService scores a finished interview transcript across the fixed
// category set and persists the report. Scoring prefers the text backend
// but always has a deterministic local fallback, so a finished interview
// never goes unscored.
type FeedbackService struct {
	generator TextGenerator
	store     FeedbackStore
}

func NewFeedbackService(generator TextGenerator, store FeedbackStore) *FeedbackService {
	return &FeedbackService{generator: generator, store: store}
}

// CreateFeedback scores the transcript and saves the report. Passing a
// feedbackID overwrites that report in place, which is how a retaken
// interview replaces its old score. Saving the report and finalizing the
// interview are both attempted even if the other fails.
func (f *FeedbackService) CreateFeedback(ctx context.Context, interviewID, userID, feedbackID string, transcript []models.ConversationMessage) (string, error) {
	interview, err := f.store.GetInterview(ctx, interviewID)
	if err != nil {
		slog.Error("Failed to load interview for feedback", "error", err, "interview_id", interviewID)
	}

	var techStack []string
	if interview != nil {
		techStack = interview.TechStackList()
	}

	report := f.score(ctx, transcript, techStack)

	feedback := &models.Feedback{
		ID:                  feedbackID,
		InterviewID:         interviewID,
		UserID:              userID,
		TotalScore:          report.TotalScore,
		CategoryScores:      models.CategoryScoresJSON(report.CategoryScores),
		Strengths:           models.StringListJSON(report.Strengths),
		AreasForImprovement: models.StringListJSON(report.AreasForImprovement),
		FinalAssessment:     report.FinalAssessment,
	}

	saveErr := f.store.SaveFeedback(ctx, feedback)
	if saveErr != nil {
		slog.Error("Failed to save feedback", "error", saveErr, "interview_id", interviewID)
	}
	if err := f.store.FinalizeInterview(ctx, interviewID); err != nil {
		slog.Error("Failed to finalize interview", "error", err, "interview_id", interviewID)
	}
	if saveErr != nil {
		return "", saveErr
	}

	slog.Info("Feedback created", "feedback_id", feedback.ID, "interview_id", interviewID, "total_score", report.TotalScore)
	return feedback.ID, nil
}

// FeedbackReport is the scored result before persistence.
type FeedbackReport struct {
	TotalScore          float64
	CategoryScores      []models.CategoryScore
	Strengths           []string
	AreasForImprovement []string
	FinalAssessment     string
}

func (f *FeedbackService) score(ctx context.Context, transcript []models.ConversationMessage, techStack []string) FeedbackReport {
	report, err := f.scoreWithBackend(ctx, transcript)
	if err != nil {
		slog.Warn("Backend scoring failed, using heuristic scorer", "error", err)
		return heuristicScore(transcript, techStack)
	}
	return report
}

func (f *FeedbackService) scoreWithBackend(ctx context.Context, transcript []models.ConversationMessage) (FeedbackReport, error) {
	var sb strings.Builder
	for _, msg := range transcript {
		sb.WriteString("- ")
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	prompt := fmt.Sprintf(`You are an AI interviewer analyzing a mock interview. Your task is to evaluate the candidate based on structured categories. Be thorough and detailed in your analysis. Don't be lenient with the candidate. If there are mistakes or areas for improvement, point them out.

Transcript:
%s
Please score the candidate from 0 to 100 in the following areas. Do not add categories other than the ones provided:
- Communication Skills: Clarity, articulation, structured responses.
- Technical Knowledge: Understanding of key concepts for the role.
- Problem Solving: Ability to analyze problems and propose solutions.
- Cultural Fit: Alignment with company values and job role.
- Confidence and Clarity: Confidence in responses, engagement, and clarity.

Respond with only a JSON object in exactly this shape:
{"totalScore": 75, "categoryScores": [{"name": "Communication Skills", "score": 70, "comment": "..."}], "strengths": ["..."], "areasForImprovement": ["..."], "finalAssessment": "..."}`, sb.String())

	raw, err := f.generator.Generate(ctx, prompt, GenerateOptions{MaxOutputTokens: 1500, Temperature: 0.3})
	if err != nil {
		return FeedbackReport{}, err
	}

	object := firstJSONObject(raw)
	if object == "" {
		return FeedbackReport{}, fmt.Errorf("no JSON object in scoring response")
	}

	var payload struct {
		TotalScore          float64                `json:"totalScore"`
		CategoryScores      []models.CategoryScore `json:"categoryScores"`
		Strengths           json.RawMessage        `json:"strengths"`
		AreasForImprovement json.RawMessage        `json:"areasForImprovement"`
		FinalAssessment     string                 `json:"finalAssessment"`
	}
	if err := json.Unmarshal([]byte(object), &payload); err != nil {
		return FeedbackReport{}, fmt.Errorf("failed to parse scoring response: %w", err)
	}

	report := FeedbackReport{
		TotalScore:          payload.TotalScore,
		CategoryScores:      normalizeCategories(payload.CategoryScores),
		Strengths:           decodeListOrProse(payload.Strengths),
		AreasForImprovement: decodeListOrProse(payload.AreasForImprovement),
		FinalAssessment:     strings.TrimSpace(payload.FinalAssessment),
	}
	if report.TotalScore <= 0 || report.TotalScore > 100 {
		report.TotalScore = meanScore(report.CategoryScores)
	}
	if report.FinalAssessment == "" {
		report.FinalAssessment = "The candidate completed the interview. See the category breakdown for details."
	}
	return report, nil
}

// normalizeCategories maps whatever the backend returned onto the fixed
// category set, in order, clamping scores into range. Missing categories
// come back with a neutral score.
func normalizeCategories(scores []models.CategoryScore) []models.CategoryScore {
	byName := make(map[string]models.CategoryScore, len(scores))
	for _, cs := range scores {
		byName[strings.ToLower(strings.TrimSpace(cs.Name))] = cs
	}

	out := make([]models.CategoryScore, 0, len(models.FeedbackCategories))
	for _, name := range models.FeedbackCategories {
		cs, ok := byName[strings.ToLower(name)]
		if !ok {
			out = append(out, models.CategoryScore{Name: name, Score: 50, Comment: "Not enough signal to assess this category."})
			continue
		}
		cs.Name = name
		if cs.Score < 0 {
			cs.Score = 0
		}
		if cs.Score > 100 {
			cs.Score = 100
		}
		out = append(out, cs)
	}
	return out
}

// decodeListOrProse accepts either a JSON string array or a prose blob.
// Prose is split on bullet lines first, then sentences.
func decodeListOrProse(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return trimNonEmpty(list)
	}

	var prose string
	if err := json.Unmarshal(raw, &prose); err != nil {
		return nil
	}
	return splitProse(prose)
}

func splitProse(prose string) []string {
	if strings.Contains(prose, "\n") {
		var items []string
		for _, line := range strings.Split(prose, "\n") {
			line = numberingRe.ReplaceAllString(line, "")
			items = append(items, line)
		}
		return trimNonEmpty(items)
	}
	return trimNonEmpty(strings.Split(prose, ". "))
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(item), "."))
		if item != "" {
			out = append(out, item+".")
		}
	}
	return out
}

func meanScore(scores []models.CategoryScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, cs := range scores {
		sum += cs.Score
	}
	return sum / float64(len(scores))
}

// heuristicScore produces a deterministic report from transcript signals
// alone: answer length as the baseline, plus boosts when the candidate
// mentions the interview's tech stack, concrete problem-solving language,
// or teamwork.
func heuristicScore(transcript []models.ConversationMessage, techStack []string) FeedbackReport {
	var answers []string
	totalChars := 0
	for _, msg := range transcript {
		if msg.Role == models.RoleUser {
			answers = append(answers, msg.Content)
			totalChars += len(msg.Content)
		}
	}

	base := 45.0
	avgLen := 0
	if len(answers) > 0 {
		avgLen = totalChars / len(answers)
	}
	lengthBoost := 0.0
	switch {
	case avgLen >= 160:
		lengthBoost = 25
	case avgLen >= 80:
		lengthBoost = 15
	case avgLen >= 40:
		lengthBoost = 8
	}

	lowered := strings.ToLower(strings.Join(answers, " "))
	mentionsTech := false
	var mentioned string
	for _, tech := range techStack {
		if tech != "" && strings.Contains(lowered, strings.ToLower(tech)) {
			mentionsTech = true
			mentioned = tech
			break
		}
	}
	mentionsProblem := containsAny(lowered, "problem", "solve", "solved", "approach", "debug", "fix")
	mentionsTeam := containsAny(lowered, "team", "collaborat", "together", "colleague")
	mentionsExperience := containsAny(lowered, "experience", "project", "built", "shipped", "years")

	clamp := func(score float64) float64 {
		if score < 0 {
			return 0
		}
		if score > 100 {
			return 100
		}
		return score
	}

	categories := make([]models.CategoryScore, 0, len(models.FeedbackCategories))

	communication := clamp(base + lengthBoost)
	comment := "Answers were brief; fuller responses would show communication skills better."
	if lengthBoost >= 15 {
		comment = "The candidate gave substantial, structured answers throughout the interview."
	}
	categories = append(categories, models.CategoryScore{Name: "Communication Skills", Score: communication, Comment: comment})

	technical := base + lengthBoost/2
	comment = "The answers did not reference the technologies the role calls for."
	if mentionsTech {
		technical += 20
		comment = fmt.Sprintf("The candidate spoke concretely about %s, which suggests hands-on familiarity.", mentioned)
	}
	categories = append(categories, models.CategoryScore{Name: "Technical Knowledge", Score: clamp(technical), Comment: comment})

	problemSolving := base + lengthBoost/2
	comment = "Few answers walked through how a problem was approached or resolved."
	if mentionsProblem {
		problemSolving += 15
		comment = "The candidate described how they work through problems, not just outcomes."
	}
	categories = append(categories, models.CategoryScore{Name: "Problem Solving", Score: clamp(problemSolving), Comment: comment})

	culturalFit := base + lengthBoost/2
	comment = "There was little signal about how the candidate works with others."
	if mentionsTeam {
		culturalFit += 20
		comment = "The candidate referenced teamwork and collaboration, a good sign for fit."
	}
	categories = append(categories, models.CategoryScore{Name: "Cultural Fit", Score: clamp(culturalFit), Comment: comment})

	confidence := base + lengthBoost
	comment = "Short answers made it hard to judge confidence; practice expanding responses."
	if mentionsExperience {
		confidence += 10
		comment = "The candidate grounded answers in real experience, which reads as confident."
	}
	categories = append(categories, models.CategoryScore{Name: "Confidence and Clarity", Score: clamp(confidence), Comment: comment})

	var strengths, areas []string
	for _, cs := range categories {
		if cs.Score >= 65 {
			strengths = append(strengths, cs.Name+".")
		} else {
			areas = append(areas, cs.Name+".")
		}
	}
	if len(strengths) == 0 {
		strengths = append(strengths, "Completed the full interview session.")
	}
	if len(areas) == 0 {
		areas = append(areas, "Keep practicing with harder questions to stay sharp.")
	}

	return FeedbackReport{
		TotalScore:          meanScore(categories),
		CategoryScores:      categories,
		Strengths:           strengths,
		AreasForImprovement: areas,
		FinalAssessment:     fmt.Sprintf("The candidate answered %d questions. This assessment was produced from transcript signals; scores reflect answer depth and the topics covered.", len(answers)),
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
