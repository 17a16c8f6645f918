package repository

import (
	"context"
	"log/slog"
	"sort"

	"github.com/nsanthan/intervox/backend/models"
	"gorm.io/gorm"
)

// Store is the document-store surface over Postgres. Each write is a single
// atomic row write; no multi-row transactions are used.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate runs database migrations
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&models.Interview{},
		&models.Feedback{},
	)
}

// Interview operations

func (s *Store) CreateInterview(ctx context.Context, interview *models.Interview) error {
	if err := s.db.WithContext(ctx).Create(interview).Error; err != nil {
		slog.Error("Failed to create interview", "error", err)
		return err
	}
	slog.Info("Interview created", "interview_id", interview.ID, "user_id", interview.UserID, "role", interview.Role)
	return nil
}

func (s *Store) GetInterview(ctx context.Context, id string) (*models.Interview, error) {
	var interview models.Interview
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&interview).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get interview", "error", err, "interview_id", id)
		return nil, err
	}
	return &interview, nil
}

// QueryInterviews returns a user's interviews, optionally filtered by the
// finalized flag, newest first. Sorting happens in Go rather than in the
// query so the filter does not require a composite index.
func (s *Store) QueryInterviews(ctx context.Context, userID string, finalized *bool) ([]models.Interview, error) {
	var interviews []models.Interview
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if finalized != nil {
		query = query.Where("finalized = ?", *finalized)
	}
	if err := query.Find(&interviews).Error; err != nil {
		slog.Error("Failed to query interviews", "error", err, "user_id", userID)
		return nil, err
	}

	sort.Slice(interviews, func(i, j int) bool {
		return interviews[i].CreatedAt.After(interviews[j].CreatedAt)
	})
	return interviews, nil
}

// FinalizeInterview marks an interview as taken. The flag only ever moves
// from false to true; repeating the update is harmless.
func (s *Store) FinalizeInterview(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Interview{}).
		Where("id = ?", id).
		Update("finalized", true).Error; err != nil {
		slog.Error("Failed to finalize interview", "error", err, "interview_id", id)
		return err
	}
	slog.Info("Interview finalized", "interview_id", id)
	return nil
}

// Feedback operations

// SaveFeedback creates a feedback report, or overwrites an existing one when
// the caller supplies its ID (interview retake).
func (s *Store) SaveFeedback(ctx context.Context, feedback *models.Feedback) error {
	var err error
	if feedback.ID != "" {
		err = s.db.WithContext(ctx).Save(feedback).Error
	} else {
		err = s.db.WithContext(ctx).Create(feedback).Error
	}
	if err != nil {
		slog.Error("Failed to save feedback", "error", err, "interview_id", feedback.InterviewID)
		return err
	}
	slog.Info("Feedback saved", "feedback_id", feedback.ID, "interview_id", feedback.InterviewID, "total_score", feedback.TotalScore)
	return nil
}

// GetFeedbackByInterview returns the feedback for an (interview, user) pair.
// At most one report is expected; the newest wins if duplicates ever exist.
func (s *Store) GetFeedbackByInterview(ctx context.Context, interviewID, userID string) (*models.Feedback, error) {
	var feedback models.Feedback
	err := s.db.WithContext(ctx).
		Where("interview_id = ? AND user_id = ?", interviewID, userID).
		Order("created_at DESC").
		First(&feedback).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get feedback", "error", err, "interview_id", interviewID, "user_id", userID)
		return nil, err
	}
	return &feedback, nil
}
