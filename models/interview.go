package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Interview is a generated interview definition. It is created unfinalized;
// Finalized flips to true exactly once, when feedback is produced or the user
// completes the interview without feedback.
type Interview struct {
	ID        string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID    string         `gorm:"type:uuid;not null;index" json:"user_id"`
	Role      string         `gorm:"size:255;not null" json:"role"`
	Level     string         `gorm:"size:50;not null;check:level IN ('entry-level', 'mid-level', 'senior-level')" json:"level"`
	Type      string         `gorm:"size:50;not null;check:type IN ('technical', 'behavioral', 'mixed')" json:"type"`
	TechStack datatypes.JSON `gorm:"type:jsonb" json:"techstack"`
	Questions datatypes.JSON `gorm:"type:jsonb;not null" json:"questions"`
	Amount    int            `gorm:"not null" json:"amount"`
	Finalized bool           `gorm:"not null;default:false;index" json:"finalized"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// QuestionList decodes the stored question array.
func (i *Interview) QuestionList() []string {
	return decodeStringList(i.Questions)
}

// TechStackList decodes the stored tech stack array.
func (i *Interview) TechStackList() []string {
	return decodeStringList(i.TechStack)
}

// CategoryScore is one scored feedback category. The category set is fixed:
// exactly five entries in a fixed order on every report.
type CategoryScore struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment"`
}

// FeedbackCategories is the fixed category order for every feedback report.
var FeedbackCategories = []string{
	"Communication Skills",
	"Technical Knowledge",
	"Problem Solving",
	"Cultural Fit",
	"Confidence and Clarity",
}

// Feedback is a scored report for one taken interview. Normally created once
// per (interview, user) pair; retakes overwrite by supplying an existing ID.
type Feedback struct {
	ID                  string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	InterviewID         string         `gorm:"type:uuid;not null;index" json:"interview_id"`
	UserID              string         `gorm:"type:uuid;not null;index" json:"user_id"`
	TotalScore          float64        `gorm:"type:decimal(5,2);not null" json:"total_score"` // 0 to 100
	CategoryScores      datatypes.JSON `gorm:"type:jsonb;not null" json:"category_scores"`
	Strengths           datatypes.JSON `gorm:"type:jsonb" json:"strengths"`
	AreasForImprovement datatypes.JSON `gorm:"type:jsonb" json:"areas_for_improvement"`
	FinalAssessment     string         `gorm:"type:text" json:"final_assessment"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`

	Interview Interview `gorm:"foreignKey:InterviewID" json:"-"`
}

// CategoryScoreList decodes the stored category scores.
func (f *Feedback) CategoryScoreList() []CategoryScore {
	var scores []CategoryScore
	if err := json.Unmarshal(f.CategoryScores, &scores); err != nil {
		return nil
	}
	return scores
}

// StringListJSON encodes a string slice for a jsonb column.
func StringListJSON(items []string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}

// CategoryScoresJSON encodes category scores for a jsonb column.
func CategoryScoresJSON(scores []CategoryScore) datatypes.JSON {
	b, err := json.Marshal(scores)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(b)
}

func decodeStringList(raw datatypes.JSON) []string {
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}
