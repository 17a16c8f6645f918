package models

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode selects what a voice session produces when it ends:
// a generated interview definition, or scored feedback for a taken interview.
type Mode string

const (
	ModeGenerate  Mode = "generate"
	ModeInterview Mode = "interview"
)

// ConversationMessage is a single turn in a session transcript. The ordered
// sequence of messages is the transcript; insertion order is meaningful.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationConfig is the immutable per-session configuration, created once
// when a conversation starts and discarded when it ends.
type ConversationConfig struct {
	Mode        Mode     `json:"mode"`
	Questions   []string `json:"questions,omitempty"` // interview mode only
	UserName    string   `json:"user_name"`
	UserID      string   `json:"user_id"`
	InterviewID string   `json:"interview_id,omitempty"` // interview mode only
	FeedbackID  string   `json:"feedback_id,omitempty"`  // set when retaking
}
