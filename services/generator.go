package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nsanthan/intervox/backend/models"
)

// InterviewParams describes the interview to synthesize. Zero or invalid
// fields are normalized to safe defaults before generation.
type InterviewParams struct {
	Role      string
	Level     string
	Type      string
	TechStack []string
	Amount    int
	UserID    string
}

const (
	defaultRole   = "Software Developer"
	defaultLevel  = "mid-level"
	defaultType   = "mixed"
	defaultAmount = 5
	maxAmount     = 10
)

var defaultTechStack = []string{"JavaScript", "React"}

// InterviewStore is the slice of the repository the generation service
// writes through.
type InterviewStore interface {
	CreateInterview(ctx context.Context, interview *models.Interview) error
	FinalizeInterview(ctx context.Context, interviewID string) error
}

// GenerationService turns either explicit parameters or a finished
// conversation transcript into a persisted interview with a fixed-size
// question list.
type GenerationService struct {
	generator TextGenerator
	store     InterviewStore
}

func NewGenerationService(generator TextGenerator, store InterviewStore) *GenerationService {
	return &GenerationService{generator: generator, store: store}
}

// Normalize clamps and defaults every field so generation always has a
// complete parameter set to work from.
func (p InterviewParams) Normalize() InterviewParams {
	p.Role = strings.TrimSpace(p.Role)
	if p.Role == "" {
		p.Role = defaultRole
	}

	switch strings.ToLower(strings.TrimSpace(p.Level)) {
	case "entry", "entry-level", "junior":
		p.Level = "entry-level"
	case "senior", "senior-level", "lead", "staff":
		p.Level = "senior-level"
	default:
		p.Level = defaultLevel
	}

	switch strings.ToLower(strings.TrimSpace(p.Type)) {
	case "technical":
		p.Type = "technical"
	case "behavioral", "behavioural":
		p.Type = "behavioral"
	default:
		p.Type = defaultType
	}

	stack := make([]string, 0, len(p.TechStack))
	for _, tech := range p.TechStack {
		if tech = strings.TrimSpace(tech); tech != "" {
			stack = append(stack, tech)
		}
	}
	if len(stack) == 0 {
		stack = append(stack, defaultTechStack...)
	}
	p.TechStack = stack

	if p.Amount < 1 {
		p.Amount = defaultAmount
	}
	if p.Amount > maxAmount {
		p.Amount = maxAmount
	}
	return p
}

// CreateInterview generates questions for the given parameters and persists
// the interview record.
func (g *GenerationService) CreateInterview(ctx context.Context, params InterviewParams) (*models.Interview, error) {
	params = params.Normalize()
	questions := g.generateQuestions(ctx, params)

	interview := &models.Interview{
		UserID:    params.UserID,
		Role:      params.Role,
		Level:     params.Level,
		Type:      params.Type,
		TechStack: models.StringListJSON(params.TechStack),
		Questions: models.StringListJSON(questions),
		Amount:    params.Amount,
	}
	if err := g.store.CreateInterview(ctx, interview); err != nil {
		return nil, err
	}

	slog.Info("Interview created", "interview_id", interview.ID, "role", params.Role, "questions", len(questions))
	return interview, nil
}

// CreateInterviewFromConversation extracts interview parameters from a voice
// conversation and builds the interview from them. Extraction never blocks
// creation: an unusable transcript falls back to the default parameter set.
func (g *GenerationService) CreateInterviewFromConversation(ctx context.Context, userID string, transcript []models.ConversationMessage) (string, error) {
	params := g.extractParams(ctx, transcript)
	params.UserID = userID

	interview, err := g.CreateInterview(ctx, params)
	if err != nil {
		return "", err
	}
	return interview.ID, nil
}

// CompleteWithoutFeedback marks the interview finalized with no feedback
// report attached.
func (g *GenerationService) CompleteWithoutFeedback(ctx context.Context, interviewID string) error {
	return g.store.FinalizeInterview(ctx, interviewID)
}

type extractedParams struct {
	Role      string   `json:"role"`
	Level     string   `json:"level"`
	Type      string   `json:"type"`
	TechStack []string `json:"techstack"`
	Amount    int      `json:"amount"`
}

// extractParams asks the text backend to read the interview parameters out
// of the conversation. Any failure along the way yields the defaults.
func (g *GenerationService) extractParams(ctx context.Context, transcript []models.ConversationMessage) InterviewParams {
	var sb strings.Builder
	for _, msg := range transcript {
		sb.WriteString(string(msg.Role))
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Based on this conversation about creating a mock interview, extract the interview details.

Conversation:
%s
Respond with only a JSON object in exactly this shape:
{"role": "job title", "level": "entry-level or mid-level or senior-level", "type": "technical or behavioral or mixed", "techstack": ["tech1", "tech2"], "amount": 5}`, sb.String())

	raw, err := g.generator.Generate(ctx, prompt, GenerateOptions{MaxOutputTokens: 300, Temperature: 0.1})
	if err != nil {
		slog.Warn("Parameter extraction failed, using defaults", "error", err)
		return InterviewParams{}
	}

	object := firstJSONObject(raw)
	if object == "" {
		slog.Warn("No JSON object in extraction response, using defaults")
		return InterviewParams{}
	}

	var extracted extractedParams
	if err := json.Unmarshal([]byte(object), &extracted); err != nil {
		slog.Warn("Failed to parse extracted parameters, using defaults", "error", err)
		return InterviewParams{}
	}

	return InterviewParams{
		Role:      extracted.Role,
		Level:     extracted.Level,
		Type:      extracted.Type,
		TechStack: extracted.TechStack,
		Amount:    extracted.Amount,
	}
}

// generateQuestions produces exactly params.Amount questions. The text
// backend's output is parsed leniently and topped up from templates, so the
// count always comes out exact even when the backend misbehaves entirely.
func (g *GenerationService) generateQuestions(ctx context.Context, params InterviewParams) []string {
	prompt := fmt.Sprintf(`Prepare questions for a job interview.
The job role is %s.
The job experience level is %s.
The tech stack used in the job is: %s.
The focus between behavioural and technical questions should lean towards: %s.
The amount of questions required is: %d.
Please return only the questions, without any additional text.
The questions are going to be read by a voice assistant, so do not use "/" or "*" or any other special characters which might break the voice assistant.
Return the questions formatted like this:
["Question 1", "Question 2", "Question 3"]`,
		params.Role, params.Level, strings.Join(params.TechStack, ", "), params.Type, params.Amount)

	var questions []string
	raw, err := g.generator.Generate(ctx, prompt, GenerateOptions{MaxOutputTokens: 1000, Temperature: 0.7})
	if err != nil {
		slog.Warn("Question generation failed, using templates", "error", err)
	} else {
		questions = parseQuestions(raw)
	}

	questions = topUpQuestions(questions, params)
	if len(questions) > params.Amount {
		questions = questions[:params.Amount]
	}
	return questions
}

var (
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
	jsonArrayRe  = regexp.MustCompile(`(?s)\[.*\]`)
	numberingRe  = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)
)

func firstJSONObject(s string) string { return jsonObjectRe.FindString(s) }

// parseQuestions reads the backend's reply as a JSON string array first and
// falls back to splitting lines when the array does not parse.
func parseQuestions(raw string) []string {
	if array := jsonArrayRe.FindString(raw); array != "" {
		var questions []string
		if err := json.Unmarshal([]byte(array), &questions); err == nil {
			return sanitizeQuestions(questions)
		}
	}
	return sanitizeQuestions(splitQuestionLines(raw))
}

func splitQuestionLines(raw string) []string {
	var questions []string
	for _, line := range strings.Split(raw, "\n") {
		line = numberingRe.ReplaceAllString(line, "")
		line = strings.Trim(line, ` "',[]`)
		questions = append(questions, line)
	}
	return questions
}

// sanitizeQuestions drops fragments too short to be questions and strips
// characters that trip up voice synthesis.
func sanitizeQuestions(questions []string) []string {
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.Map(func(r rune) rune {
			switch r {
			case '*', '/', '\\', '#', '`':
				return -1
			}
			return r
		}, q)
		q = strings.Join(strings.Fields(q), " ")
		if len(q) < 10 {
			continue
		}
		out = append(out, q)
	}
	return out
}

var technicalTemplates = []string{
	"Can you describe your experience working with %s?",
	"How would you approach debugging a difficult issue in a %s application?",
	"What do you consider best practices when working with %s?",
	"Tell me about a challenging technical problem you solved using %s.",
	"How do you keep your %s skills up to date?",
	"How would you explain %s to someone without a technical background?",
	"What trade-offs do you weigh when designing a system around %s?",
}

var behavioralTemplates = []string{
	"Tell me about a time you had to meet a tight deadline. How did you manage it?",
	"Describe a situation where you disagreed with a teammate. How did you resolve it?",
	"Tell me about a project you are most proud of and your role in it.",
	"How do you handle receiving critical feedback on your work?",
	"Describe a time you had to learn something new quickly. What was your approach?",
	"Tell me about a time you had to balance competing priorities.",
	"How do you approach mentoring or helping less experienced colleagues?",
}

// topUpQuestions appends deterministic template questions until the exact
// amount is reached. Mixed interviews alternate between technical and
// behavioral templates.
func topUpQuestions(questions []string, params InterviewParams) []string {
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		seen[q] = true
	}

	tech := params.TechStack[0]
	nextTechnical := 0
	nextBehavioral := 0
	useTechnical := params.Type != "behavioral"

	for len(questions) < params.Amount {
		var q string
		switch {
		case useTechnical && nextTechnical < len(technicalTemplates):
			q = fmt.Sprintf(technicalTemplates[nextTechnical], tech)
			nextTechnical++
		case nextBehavioral < len(behavioralTemplates):
			q = behavioralTemplates[nextBehavioral]
			nextBehavioral++
		case nextTechnical < len(technicalTemplates):
			q = fmt.Sprintf(technicalTemplates[nextTechnical], tech)
			nextTechnical++
		default:
			return questions
		}

		if params.Type == "mixed" {
			useTechnical = !useTechnical
		}
		if seen[q] {
			continue
		}
		seen[q] = true
		questions = append(questions, q)
	}
	return questions
}
