package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growthos/models"
)

func TestDashboard(t *testing.T) {
	db := newTestDB(t)
	rc := createUser(t, db, "owner@example.com")
	now := time.Now()
	svc := NewReportService(db)

	createProspect(t, db, rc, "a@x.com")
	p := createProspect(t, db, rc, "b@x.com")
	require.NoError(t, db.Model(p).Updates(map[string]interface{}{"source": models.SourceReferral}).Error)

	closed := now
	deals := []models.Deal{
		{UserID: rc.UserID, Title: "A", Value: 1000, Stage: models.DealStageLead},
		{UserID: rc.UserID, Title: "B", Value: 2000, Stage: models.DealStageProposal},
		{UserID: rc.UserID, Title: "C", Value: 5000, Stage: models.DealStageWon, ClosedAt: &closed},
		{UserID: rc.UserID, Title: "D", Value: 700, Stage: models.DealStageLost, ClosedAt: &closed},
	}
	require.NoError(t, db.Create(&deals).Error)

	past := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 0, 1)
	tasks := []models.Task{
		{UserID: rc.UserID, Title: "overdue", DueDate: &past},
		{UserID: rc.UserID, Title: "upcoming", DueDate: &future},
		{UserID: rc.UserID, Title: "done", DueDate: &past, Completed: true, CompletedAt: &now},
	}
	require.NoError(t, db.Create(&tasks).Error)

	other := createUser(t, db, "other@example.com")
	createProspect(t, db, other, "c@x.com")

	stats, err := svc.Dashboard(rc)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Prospects)
	assert.Equal(t, []LabelCount{{Label: models.SourceOther, Count: 1}, {Label: models.SourceReferral, Count: 1}}, stats.ProspectsBySource)
	assert.EqualValues(t, 3000, stats.OpenPipelineValue)
	assert.EqualValues(t, 5000, stats.WonValue)
	require.Len(t, stats.Pipeline, 4)
	assert.Equal(t, models.DealStageLead, stats.Pipeline[0].Stage)
	assert.Equal(t, models.DealStageLost, stats.Pipeline[3].Stage)
	assert.EqualValues(t, 2, stats.OpenTasks)
	assert.EqualValues(t, 1, stats.OverdueTasks)

	series, err := svc.Activity(rc, "year")
	require.NoError(t, err)
	require.Len(t, series.Labels, 12)
	assert.Equal(t, now.Format("Jan"), series.Labels[11])
	require.Len(t, series.Datasets, 3)
	assert.EqualValues(t, 2, series.Datasets[0].Data[11])
	assert.EqualValues(t, 1, series.Datasets[1].Data[11])
	assert.EqualValues(t, 1, series.Datasets[2].Data[11])

	series, err = svc.Activity(rc, "month")
	require.NoError(t, err)
	assert.Equal(t, []string{"Week 1", "Week 2", "Week 3", "Week 4"}, series.Labels)

	sections, err := svc.PipelineReport(rc)
	require.NoError(t, err)
	require.Len(t, sections, 4)
	assert.Equal(t, "Pipeline", sections[0].Title)
}
