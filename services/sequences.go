package services

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

// Advance scopes. ScopeSequence advances every active assignment on the task's sequence,
// which is how completed sequence tasks have always behaved. ScopeAssignment narrows it to
// the assignment the task was generated for.
const (
	ScopeSequence   = "sequence"
	ScopeAssignment = "assignment"
)

// Names containing a double quote cannot be recovered from a title.
var sequenceTitlePattern = regexp.MustCompile(`sequence "([^"]*)"`)

// ActionLabel names the action a step asks the user to perform.
func ActionLabel(stepType string) string {
	switch stepType {
	case models.StepTypeEmail:
		return "Send email"
	case models.StepTypeLinkedInConnection:
		return "Send LinkedIn connection request"
	default:
		return "Send LinkedIn message"
	}
}

// SequenceTaskTitle builds the title of a task generated for step n of a sequence.
func SequenceTaskTitle(stepType, sequenceName string, n int) string {
	return fmt.Sprintf(`%s - sequence "%s" - Step %d`, ActionLabel(stepType), sequenceName, n)
}

// ExtractSequenceName recovers the sequence name embedded in a task title.
func ExtractSequenceName(title string) (string, bool) {
	m := sequenceTitlePattern.FindStringSubmatch(title)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// AdvanceResult is the outcome for one assignment.
type AdvanceResult struct {
	AssignmentID uint   `json:"assignment_id"`
	ProspectID   uint   `json:"prospect_id"`
	FromStep     int    `json:"from_step"`
	ToStep       int    `json:"to_step"`
	Status       string `json:"status"`
	TaskID       *uint  `json:"task_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

type SequenceService struct {
	DB     *gorm.DB
	Logger *logrus.Entry
	Scope  string
	Now    func() time.Time
}

func NewSequenceService(db *gorm.DB, logger *logrus.Entry, scope string) *SequenceService {
	if scope == "" {
		scope = ScopeSequence
	}
	return &SequenceService{
		DB:     db,
		Logger: logger,
		Scope:  scope,
		Now:    time.Now,
	}
}

func (s *SequenceService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("step_number ASC")
}

// LoadSequence returns a user's sequence with its steps in order.
func (s *SequenceService) LoadSequence(rc *utils.RequestContext, sequenceID uint) (*models.Sequence, error) {
	var seq models.Sequence
	err := s.DB.WithContext(rc.Context()).
		Preload("Steps", orderedSteps).
		Where("id = ? AND user_id = ?", sequenceID, rc.UserID).
		First(&seq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

// Enroll starts a prospect on the first step of a sequence and creates that step's task.
func (s *SequenceService) Enroll(rc *utils.RequestContext, sequenceID, prospectID uint) (*models.SequenceAssignment, *models.Task, error) {
	seq, err := s.LoadSequence(rc, sequenceID)
	if err != nil {
		return nil, nil, err
	}
	if len(seq.Steps) == 0 {
		return nil, nil, ErrEmptySequence
	}

	db := s.DB.WithContext(rc.Context())

	var prospect models.Prospect
	if err := db.Where("id = ? AND user_id = ?", prospectID, rc.UserID).First(&prospect).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	var existing int64
	if err := db.Model(&models.SequenceAssignment{}).
		Where("sequence_id = ? AND prospect_id = ? AND status = ?", seq.ID, prospect.ID, models.AssignmentActive).
		Count(&existing).Error; err != nil {
		return nil, nil, err
	}
	if existing > 0 {
		return nil, nil, ErrAlreadyEnrolled
	}

	first := seq.Steps[0]
	assignment := &models.SequenceAssignment{
		UserID:      rc.UserID,
		SequenceID:  seq.ID,
		ProspectID:  prospect.ID,
		CurrentStep: first.StepNumber,
		Status:      models.AssignmentActive,
	}
	var task *models.Task

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(assignment).Error; err != nil {
			return fmt.Errorf("failed to create assignment: %w", err)
		}
		task = s.stepTask(seq, &first, assignment)
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.Logger.WithFields(rc.Fields()).WithFields(logrus.Fields{
		"sequence_id":   seq.ID,
		"prospect_id":   prospect.ID,
		"assignment_id": assignment.ID,
	}).Info("Prospect enrolled in sequence")

	return assignment, task, nil
}

// CompleteTask marks a task done and, for sequence tasks, advances the sequence.
// Completing an already completed task changes nothing.
func (s *SequenceService) CompleteTask(rc *utils.RequestContext, taskID uint) (*models.Task, []AdvanceResult, error) {
	db := s.DB.WithContext(rc.Context())

	var task models.Task
	if err := db.Where("id = ? AND user_id = ?", taskID, rc.UserID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if task.Completed {
		return &task, nil, nil
	}

	now := s.now()
	if err := db.Model(&task).Updates(map[string]interface{}{
		"completed":    true,
		"completed_at": now,
	}).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to complete task: %w", err)
	}
	task.Completed = true
	task.CompletedAt = &now

	if task.Source != models.TaskSourceSequence {
		return &task, nil, nil
	}

	results, err := s.Advance(rc, &task)
	if err != nil {
		return &task, nil, err
	}
	return &task, results, nil
}

// Advance moves assignments of the task's sequence to their next step. An unknown
// sequence is a no-op. Each assignment is updated in its own transaction and all of them
// run concurrently; one failing does not undo the others.
func (s *SequenceService) Advance(rc *utils.RequestContext, task *models.Task) ([]AdvanceResult, error) {
	log := s.Logger.WithFields(rc.Fields()).WithField("task_id", task.ID)

	seq, err := s.resolveSequence(rc, task)
	if err != nil {
		return nil, err
	}
	if seq == nil {
		log.WithField("title", task.Title).Debug("No sequence found for completed task")
		return nil, nil
	}

	assignments, err := s.assignmentsToAdvance(rc, seq, task)
	if err != nil {
		return nil, err
	}

	results := make([]AdvanceResult, len(assignments))
	g, gctx := errgroup.WithContext(rc.Context())
	for i := range assignments {
		i := i
		g.Go(func() error {
			results[i] = s.advanceOne(s.DB.WithContext(gctx), seq, assignments[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		entry := log.WithFields(logrus.Fields{
			"sequence_id":   seq.ID,
			"assignment_id": r.AssignmentID,
			"from_step":     r.FromStep,
			"to_step":       r.ToStep,
		})
		if r.Error != "" {
			utils.SequenceAdvances.WithLabelValues("failed").Inc()
			entry.WithField("error", r.Error).Error("Failed to advance sequence assignment")
			continue
		}
		utils.SequenceAdvances.WithLabelValues(r.Status).Inc()
		entry.WithField("status", r.Status).Info("Sequence assignment advanced")
	}

	return results, nil
}

func (s *SequenceService) resolveSequence(rc *utils.RequestContext, task *models.Task) (*models.Sequence, error) {
	q := s.DB.WithContext(rc.Context()).
		Preload("Steps", orderedSteps).
		Where("user_id = ?", task.UserID)

	if task.SequenceID != nil {
		q = q.Where("id = ?", *task.SequenceID)
	} else {
		name, ok := ExtractSequenceName(task.Title)
		if !ok {
			return nil, nil
		}
		q = q.Where("name = ?", name)
	}

	var seq models.Sequence
	if err := q.First(&seq).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load sequence: %w", err)
	}
	return &seq, nil
}

func (s *SequenceService) assignmentsToAdvance(rc *utils.RequestContext, seq *models.Sequence, task *models.Task) ([]models.SequenceAssignment, error) {
	q := s.DB.WithContext(rc.Context()).
		Where("sequence_id = ? AND status = ?", seq.ID, models.AssignmentActive)

	if s.Scope == ScopeAssignment {
		switch {
		case task.SequenceAssignmentID != nil:
			q = q.Where("id = ?", *task.SequenceAssignmentID)
		case task.ProspectID != nil:
			q = q.Where("prospect_id = ?", *task.ProspectID)
		default:
			s.Logger.WithFields(rc.Fields()).WithFields(logrus.Fields{
				"task_id":     task.ID,
				"sequence_id": seq.ID,
			}).Warn("Task is not bound to an assignment, nothing to advance")
			return nil, nil
		}
	}

	var assignments []models.SequenceAssignment
	if err := q.Order("id ASC").Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	return assignments, nil
}

func (s *SequenceService) advanceOne(db *gorm.DB, seq *models.Sequence, a models.SequenceAssignment) AdvanceResult {
	result := AdvanceResult{
		AssignmentID: a.ID,
		ProspectID:   a.ProspectID,
		FromStep:     a.CurrentStep,
	}

	next := a.CurrentStep + 1
	step := seq.StepByNumber(next)
	now := s.now()

	err := db.Transaction(func(tx *gorm.DB) error {
		if step == nil {
			final := next
			if final > len(seq.Steps) {
				final = len(seq.Steps)
			}
			if final < a.CurrentStep {
				final = a.CurrentStep
			}
			result.ToStep = final
			result.Status = models.AssignmentCompleted
			return tx.Model(&models.SequenceAssignment{}).
				Where("id = ?", a.ID).
				Updates(map[string]interface{}{
					"current_step": final,
					"status":       models.AssignmentCompleted,
					"completed_at": now,
				}).Error
		}

		result.ToStep = next
		result.Status = models.AssignmentActive
		if err := tx.Model(&models.SequenceAssignment{}).
			Where("id = ?", a.ID).
			Updates(map[string]interface{}{
				"current_step": next,
				"status":       models.AssignmentActive,
			}).Error; err != nil {
			return err
		}

		a.CurrentStep = next
		task := s.stepTask(seq, step, &a)
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		result.TaskID = &task.ID
		return nil
	})
	if err != nil {
		result.Error = err.Error()
		result.TaskID = nil
	}
	return result
}

// stepTask builds the actionable task for step of seq bound to assignment a.
func (s *SequenceService) stepTask(seq *models.Sequence, step *models.SequenceStep, a *models.SequenceAssignment) *models.Task {
	due := s.now().AddDate(0, 0, step.DelayDays)
	prospectID := a.ProspectID
	sequenceID := seq.ID
	assignmentID := a.ID
	return &models.Task{
		UserID:               a.UserID,
		Title:                SequenceTaskTitle(step.StepType, seq.Name, step.StepNumber),
		Description:          step.MessageTemplate,
		DueDate:              &due,
		Source:               models.TaskSourceSequence,
		ProspectID:           &prospectID,
		SequenceID:           &sequenceID,
		SequenceAssignmentID: &assignmentID,
		StepNumber:           step.StepNumber,
		ActionType:           step.StepType,
	}
}

// CompleteOverrunAssignments completes the active assignments of a sequence whose current
// step is past stepCount, parking them on the new last step. It runs on db so callers can
// include it in the transaction that replaces the steps.
func (s *SequenceService) CompleteOverrunAssignments(db *gorm.DB, sequenceID uint, stepCount int) error {
	res := db.Model(&models.SequenceAssignment{}).
		Where("sequence_id = ? AND status = ? AND current_step > ?", sequenceID, models.AssignmentActive, stepCount).
		Updates(map[string]interface{}{
			"current_step": stepCount,
			"status":       models.AssignmentCompleted,
			"completed_at": s.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete overrun assignments: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.Logger.WithFields(logrus.Fields{
			"sequence_id": sequenceID,
			"step_count":  stepCount,
			"completed":   res.RowsAffected,
		}).Info("Completed assignments past the last step")
	}
	return nil
}
