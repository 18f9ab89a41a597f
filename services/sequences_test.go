package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

func createSequence(t *testing.T, db *gorm.DB, rc *utils.RequestContext, name string, steps ...models.SequenceStep) *models.Sequence {
	t.Helper()
	for i := range steps {
		steps[i].StepNumber = i + 1
	}
	seq := models.Sequence{UserID: rc.UserID, Name: name, Steps: steps}
	require.NoError(t, db.Create(&seq).Error)
	return &seq
}

func twoStepSequence(t *testing.T, db *gorm.DB, rc *utils.RequestContext, name string) *models.Sequence {
	return createSequence(t, db, rc, name,
		models.SequenceStep{StepType: models.StepTypeEmail, MessageTemplate: "Hi {{first_name}}", DelayDays: 0},
		models.SequenceStep{StepType: models.StepTypeLinkedInConnection, MessageTemplate: "Let's connect", DelayDays: 3},
	)
}

func loadAssignment(t *testing.T, db *gorm.DB, id uint) models.SequenceAssignment {
	t.Helper()
	var a models.SequenceAssignment
	require.NoError(t, db.First(&a, id).Error)
	return a
}

func TestSequenceTaskTitle(t *testing.T) {
	tests := []struct {
		stepType string
		want     string
	}{
		{models.StepTypeEmail, `Send email - sequence "Intro" - Step 2`},
		{models.StepTypeLinkedInConnection, `Send LinkedIn connection request - sequence "Intro" - Step 2`},
		{models.StepTypeLinkedInMessage, `Send LinkedIn message - sequence "Intro" - Step 2`},
		{"carrier_pigeon", `Send LinkedIn message - sequence "Intro" - Step 2`},
	}
	for _, tt := range tests {
		t.Run(tt.stepType, func(t *testing.T) {
			title := SequenceTaskTitle(tt.stepType, "Intro", 2)
			assert.Equal(t, tt.want, title)

			name, ok := ExtractSequenceName(title)
			require.True(t, ok)
			assert.Equal(t, "Intro", name)
		})
	}

	t.Run("no sequence marker", func(t *testing.T) {
		_, ok := ExtractSequenceName("Call Jane back")
		assert.False(t, ok)
	})

	t.Run("quote in name truncates", func(t *testing.T) {
		name, ok := ExtractSequenceName(SequenceTaskTitle(models.StepTypeEmail, `The "Big" One`, 1))
		require.True(t, ok)
		assert.Equal(t, "The ", name)
	})
}

func TestEnroll(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewSequenceService(db, testLogger(), "")
	svc.Now = fixedClock(now)

	seq := twoStepSequence(t, db, rc, "Intro")
	prospect := createProspect(t, db, rc, "jane@acme.com")

	assignment, task, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, assignment.CurrentStep)
	assert.Equal(t, models.AssignmentActive, assignment.Status)

	assert.Equal(t, `Send email - sequence "Intro" - Step 1`, task.Title)
	assert.Equal(t, "Hi {{first_name}}", task.Description)
	assert.Equal(t, models.TaskSourceSequence, task.Source)
	require.NotNil(t, task.SequenceAssignmentID)
	assert.Equal(t, assignment.ID, *task.SequenceAssignmentID)
	require.NotNil(t, task.DueDate)
	assert.True(t, task.DueDate.Equal(now))

	_, _, err = svc.Enroll(rc, seq.ID, prospect.ID)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	empty := createSequence(t, db, rc, "Empty")
	_, _, err = svc.Enroll(rc, empty.ID, prospect.ID)
	assert.ErrorIs(t, err, ErrEmptySequence)

	_, _, err = svc.Enroll(rc, seq.ID, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	other := createUser(t, db, "other@example.com")
	_, _, err = svc.Enroll(other, seq.ID, prospect.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteTaskAdvancesToNextStep(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewSequenceService(db, testLogger(), ScopeSequence)
	svc.Now = fixedClock(now)

	seq := twoStepSequence(t, db, rc, "Intro")
	prospect := createProspect(t, db, rc, "jane@acme.com")
	assignment, first, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)

	done, results, err := svc.CompleteTask(rc, first.ID)
	require.NoError(t, err)
	assert.True(t, done.Completed)
	require.Len(t, results, 1)

	r := results[0]
	assert.Empty(t, r.Error)
	assert.Equal(t, 1, r.FromStep)
	assert.Equal(t, 2, r.ToStep)
	assert.Equal(t, models.AssignmentActive, r.Status)
	require.NotNil(t, r.TaskID)

	a := loadAssignment(t, db, assignment.ID)
	assert.Equal(t, 2, a.CurrentStep)
	assert.Equal(t, models.AssignmentActive, a.Status)

	var next models.Task
	require.NoError(t, db.First(&next, *r.TaskID).Error)
	assert.Equal(t, `Send LinkedIn connection request - sequence "Intro" - Step 2`, next.Title)
	assert.Equal(t, "Let's connect", next.Description)
	assert.Equal(t, models.StepTypeLinkedInConnection, next.ActionType)
	assert.Equal(t, 2, next.StepNumber)
	require.NotNil(t, next.DueDate)
	assert.True(t, next.DueDate.Equal(now.AddDate(0, 0, 3)))
	assert.False(t, next.Completed)
}

func TestCompleteTaskOnLastStepCompletesAssignment(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewSequenceService(db, testLogger(), ScopeSequence)

	seq := twoStepSequence(t, db, rc, "Intro")
	prospect := createProspect(t, db, rc, "jane@acme.com")
	assignment, first, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)

	_, results, err := svc.CompleteTask(rc, first.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, results, err = svc.CompleteTask(rc, *results[0].TaskID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.AssignmentCompleted, results[0].Status)
	assert.Equal(t, 2, results[0].ToStep)
	assert.Nil(t, results[0].TaskID)

	a := loadAssignment(t, db, assignment.ID)
	assert.Equal(t, models.AssignmentCompleted, a.Status)
	assert.Equal(t, 2, a.CurrentStep, "current step never exceeds the step count")
	assert.NotNil(t, a.CompletedAt)

	var open int64
	require.NoError(t, db.Model(&models.Task{}).Where("completed = ?", false).Count(&open).Error)
	assert.Zero(t, open)
}

func TestCompleteTaskIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewSequenceService(db, testLogger(), ScopeSequence)

	seq := twoStepSequence(t, db, rc, "Intro")
	prospect := createProspect(t, db, rc, "jane@acme.com")
	assignment, first, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)

	_, _, err = svc.CompleteTask(rc, first.ID)
	require.NoError(t, err)

	task, results, err := svc.CompleteTask(rc, first.ID)
	require.NoError(t, err)
	assert.True(t, task.Completed)
	assert.Empty(t, results)
	assert.Equal(t, 2, loadAssignment(t, db, assignment.ID).CurrentStep)

	var tasks int64
	require.NoError(t, db.Model(&models.Task{}).Count(&tasks).Error)
	assert.EqualValues(t, 2, tasks)
}

func TestAdvanceScope(t *testing.T) {
	tests := []struct {
		scope        string
		wantAdvanced int
	}{
		{ScopeSequence, 2},
		{ScopeAssignment, 1},
	}
	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			db := newTestDB(t)
			rc := createUser(t, db, "owner@example.com")
			svc := NewSequenceService(db, testLogger(), tt.scope)

			seq := twoStepSequence(t, db, rc, "Intro")
			jane := createProspect(t, db, rc, "jane@acme.com")
			john := createProspect(t, db, rc, "john@beta.io")

			janeAssignment, janeTask, err := svc.Enroll(rc, seq.ID, jane.ID)
			require.NoError(t, err)
			johnAssignment, _, err := svc.Enroll(rc, seq.ID, john.ID)
			require.NoError(t, err)

			_, results, err := svc.CompleteTask(rc, janeTask.ID)
			require.NoError(t, err)
			assert.Len(t, results, tt.wantAdvanced)

			assert.Equal(t, 2, loadAssignment(t, db, janeAssignment.ID).CurrentStep)
			wantJohn := 1
			if tt.scope == ScopeSequence {
				wantJohn = 2
			}
			assert.Equal(t, wantJohn, loadAssignment(t, db, johnAssignment.ID).CurrentStep)
		})
	}
}

func TestAdvanceResolvesSequenceFromTitle(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewSequenceService(db, testLogger(), ScopeSequence)

	seq := twoStepSequence(t, db, rc, "Intro")
	prospect := createProspect(t, db, rc, "jane@acme.com")
	assignment, _, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)

	legacy := models.Task{
		UserID: rc.UserID,
		Title:  SequenceTaskTitle(models.StepTypeEmail, "Intro", 1),
		Source: models.TaskSourceSequence,
	}
	require.NoError(t, db.Create(&legacy).Error)

	_, results, err := svc.CompleteTask(rc, legacy.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, loadAssignment(t, db, assignment.ID).CurrentStep)
}

func TestAdvanceUnknownSequenceIsNoop(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewSequenceService(db, testLogger(), ScopeSequence)

	seq := twoStepSequence(t, db, rc, `The "Big" One`)
	prospect := createProspect(t, db, rc, "jane@acme.com")
	assignment, _, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)

	tests := []struct {
		name  string
		title string
	}{
		{"missing sequence", SequenceTaskTitle(models.StepTypeEmail, "Nope", 1)},
		{"quoted name cannot be recovered", SequenceTaskTitle(models.StepTypeEmail, `The "Big" One`, 1)},
		{"no marker", "Follow up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := models.Task{UserID: rc.UserID, Title: tt.title, Source: models.TaskSourceSequence}
			require.NoError(t, db.Create(&task).Error)

			done, results, err := svc.CompleteTask(rc, task.ID)
			require.NoError(t, err)
			assert.True(t, done.Completed)
			assert.Empty(t, results)
			assert.Equal(t, 1, loadAssignment(t, db, assignment.ID).CurrentStep)
		})
	}
}

func TestCompleteManualTaskDoesNotAdvance(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewSequenceService(db, testLogger(), ScopeSequence)

	seq := twoStepSequence(t, db, rc, "Intro")
	prospect := createProspect(t, db, rc, "jane@acme.com")
	assignment, _, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)

	manual := models.Task{
		UserID: rc.UserID,
		Title:  SequenceTaskTitle(models.StepTypeEmail, "Intro", 1),
		Source: models.TaskSourceManual,
	}
	require.NoError(t, db.Create(&manual).Error)

	_, results, err := svc.CompleteTask(rc, manual.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, loadAssignment(t, db, assignment.ID).CurrentStep)

	_, _, err = svc.CompleteTask(rc, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func threeStepSequence(t *testing.T, db *gorm.DB, rc *utils.RequestContext, name string) *models.Sequence {
	return createSequence(t, db, rc, name,
		models.SequenceStep{StepType: models.StepTypeEmail},
		models.SequenceStep{StepType: models.StepTypeLinkedInConnection, DelayDays: 1},
		models.SequenceStep{StepType: models.StepTypeLinkedInMessage, DelayDays: 2},
	)
}

func TestCompleteOverrunAssignments(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewSequenceService(db, testLogger(), ScopeSequence)

	seq := threeStepSequence(t, db, rc, "Intro")
	jane := createProspect(t, db, rc, "jane@acme.com")
	john := createProspect(t, db, rc, "john@beta.io")

	janeAssignment, task, err := svc.Enroll(rc, seq.ID, jane.ID)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, results, err := svc.CompleteTask(rc, task.ID)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		var next models.Task
		require.NoError(t, db.First(&next, *results[0].TaskID).Error)
		task = &next
	}
	johnAssignment, _, err := svc.Enroll(rc, seq.ID, john.ID)
	require.NoError(t, err)
	require.Equal(t, 3, loadAssignment(t, db, janeAssignment.ID).CurrentStep)

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("sequence_id = ? AND step_number > 1", seq.ID).Delete(&models.SequenceStep{}).Error; err != nil {
			return err
		}
		return svc.CompleteOverrunAssignments(tx, seq.ID, 1)
	})
	require.NoError(t, err)

	janeAfter := loadAssignment(t, db, janeAssignment.ID)
	assert.Equal(t, models.AssignmentCompleted, janeAfter.Status)
	assert.Equal(t, 1, janeAfter.CurrentStep)
	assert.NotNil(t, janeAfter.CompletedAt)

	johnAfter := loadAssignment(t, db, johnAssignment.ID)
	assert.Equal(t, models.AssignmentActive, johnAfter.Status)
	assert.Equal(t, 1, johnAfter.CurrentStep)

	_, results, err := svc.CompleteTask(rc, task.ID)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, janeAssignment.ID, r.AssignmentID, "completed assignments are left alone")
	}
	assert.Equal(t, 1, loadAssignment(t, db, janeAssignment.ID).CurrentStep)
}

func TestAdvanceNeverLowersCurrentStep(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewSequenceService(db, testLogger(), ScopeAssignment)

	seq := createSequence(t, db, rc, "Short", models.SequenceStep{StepType: models.StepTypeEmail})
	prospect := createProspect(t, db, rc, "jane@acme.com")
	assignment, task, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)
	require.NoError(t, db.Model(assignment).Update("current_step", 3).Error)

	_, results, err := svc.CompleteTask(rc, task.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.AssignmentCompleted, results[0].Status)
	assert.Equal(t, 3, results[0].ToStep)
	assert.Equal(t, 3, loadAssignment(t, db, assignment.ID).CurrentStep)
}

func TestAssignmentScopeIgnoresUnboundTask(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	svc := NewSequenceService(db, testLogger(), ScopeAssignment)

	seq := twoStepSequence(t, db, rc, "Intro")
	prospect := createProspect(t, db, rc, "jane@acme.com")
	assignment, _, err := svc.Enroll(rc, seq.ID, prospect.ID)
	require.NoError(t, err)

	unbound := models.Task{
		UserID:     rc.UserID,
		Title:      SequenceTaskTitle(models.StepTypeEmail, "Intro", 1),
		Source:     models.TaskSourceSequence,
		SequenceID: &seq.ID,
	}
	require.NoError(t, db.Create(&unbound).Error)

	done, results, err := svc.CompleteTask(rc, unbound.ID)
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.Empty(t, results)
	assert.Equal(t, 1, loadAssignment(t, db, assignment.ID).CurrentStep)
}
