package services

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"growthos/models"
	"growthos/utils"
)

type StageTotal struct {
	Stage string `json:"stage"`
	Count int64  `json:"count"`
	Value int64  `json:"value"`
}

type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// DashboardStats are the summary cards of the dashboard home.
type DashboardStats struct {
	Prospects         int64        `json:"prospects"`
	ProspectsBySource []LabelCount `json:"prospects_by_source"`
	ProspectsByStatus []LabelCount `json:"prospects_by_status"`
	Pipeline          []StageTotal `json:"pipeline"`
	OpenPipelineValue int64        `json:"open_pipeline_value"`
	WonValue          int64        `json:"won_value"`
	OpenTasks         int64        `json:"open_tasks"`
	OverdueTasks      int64        `json:"overdue_tasks"`
	ActiveSequences   int64        `json:"active_sequence_assignments"`
	Outstanding       int64        `json:"outstanding_invoices"`
	PaidLast30Days    int64        `json:"paid_last_30_days"`
	UnreadMessages    int64        `json:"unread_messages"`
}

type ReportService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{DB: db, Now: time.Now}
}

func (s *ReportService) Dashboard(rc *utils.RequestContext) (*DashboardStats, error) {
	db := s.DB.WithContext(rc.Context())
	now := s.Now()
	stats := &DashboardStats{}

	if err := db.Model(&models.Prospect{}).Where("user_id = ?", rc.UserID).Count(&stats.Prospects).Error; err != nil {
		return nil, fmt.Errorf("failed to count prospects: %w", err)
	}

	var err error
	if stats.ProspectsBySource, err = s.groupCount(db, &models.Prospect{}, "source", rc.UserID); err != nil {
		return nil, err
	}
	if stats.ProspectsByStatus, err = s.groupCount(db, &models.Prospect{}, "status", rc.UserID); err != nil {
		return nil, err
	}
	if stats.Pipeline, err = s.pipeline(db, rc.UserID); err != nil {
		return nil, err
	}
	for _, st := range stats.Pipeline {
		switch st.Stage {
		case models.DealStageWon:
			stats.WonValue += st.Value
		case models.DealStageLost:
		default:
			stats.OpenPipelineValue += st.Value
		}
	}

	if err := db.Model(&models.Task{}).
		Where("user_id = ? AND completed = ?", rc.UserID, false).
		Count(&stats.OpenTasks).Error; err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	if err := db.Model(&models.Task{}).
		Where("user_id = ? AND completed = ? AND due_date < ?", rc.UserID, false, now).
		Count(&stats.OverdueTasks).Error; err != nil {
		return nil, fmt.Errorf("failed to count overdue tasks: %w", err)
	}
	if err := db.Model(&models.SequenceAssignment{}).
		Where("user_id = ? AND status = ?", rc.UserID, models.AssignmentActive).
		Count(&stats.ActiveSequences).Error; err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}

	if stats.Outstanding, err = s.invoiceTotal(db, rc.UserID, "invoices.status IN ?", []string{models.InvoiceSent, models.InvoiceFailed}); err != nil {
		return nil, err
	}
	if stats.PaidLast30Days, err = s.invoiceTotal(db, rc.UserID, "invoices.status = ? AND invoices.paid_at >= ?", models.InvoicePaid, now.AddDate(0, 0, -30)); err != nil {
		return nil, err
	}

	if err := db.Model(&models.InboxMessage{}).
		Where("user_id = ? AND is_read = ? AND is_archived = ?", rc.UserID, false, false).
		Count(&stats.UnreadMessages).Error; err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return stats, nil
}

func (s *ReportService) groupCount(db *gorm.DB, model interface{}, column string, userID uint) ([]LabelCount, error) {
	var rows []LabelCount
	if err := db.Model(model).
		Select(column+" AS label, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group(column).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to group by %s: %w", column, err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Label < rows[j].Label })
	return rows, nil
}

var stageOrder = map[string]int{
	models.DealStageLead:        0,
	models.DealStageQualified:   1,
	models.DealStageProposal:    2,
	models.DealStageNegotiation: 3,
	models.DealStageWon:         4,
	models.DealStageLost:        5,
}

func (s *ReportService) pipeline(db *gorm.DB, userID uint) ([]StageTotal, error) {
	var rows []StageTotal
	if err := db.Model(&models.Deal{}).
		Select("stage, COUNT(*) AS count, COALESCE(SUM(value), 0) AS value").
		Where("user_id = ?", userID).
		Group("stage").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool {
		oi, iok := stageOrder[rows[i].Stage]
		oj, jok := stageOrder[rows[j].Stage]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return rows[i].Stage < rows[j].Stage
	})
	return rows, nil
}

func (s *ReportService) invoiceTotal(db *gorm.DB, userID uint, cond string, args ...interface{}) (int64, error) {
	var total int64
	err := db.Model(&models.InvoiceItem{}).
		Select("CAST(COALESCE(SUM(invoice_items.quantity * invoice_items.unit_price), 0) AS BIGINT)").
		Joins("JOIN invoices ON invoices.id = invoice_items.invoice_id AND invoices.deleted_at IS NULL").
		Where("invoices.user_id = ?", userID).
		Where(cond, args...).
		Row().Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total invoices: %w", err)
	}
	return total, nil
}

// PipelineReport lays the dashboard figures out as report sections.
func (s *ReportService) PipelineReport(rc *utils.RequestContext) ([]utils.ReportSection, error) {
	stats, err := s.Dashboard(rc)
	if err != nil {
		return nil, err
	}

	currency := "USD"
	pipeline := utils.ReportSection{Title: "Pipeline"}
	for _, st := range stats.Pipeline {
		pipeline.Lines = append(pipeline.Lines, [2]string{
			fmt.Sprintf("%s (%d)", st.Stage, st.Count),
			utils.FormatCents(st.Value, currency),
		})
	}
	pipeline.Lines = append(pipeline.Lines,
		[2]string{"Open pipeline", utils.FormatCents(stats.OpenPipelineValue, currency)},
		[2]string{"Won", utils.FormatCents(stats.WonValue, currency)},
	)

	prospects := utils.ReportSection{Title: "Prospects"}
	prospects.Lines = append(prospects.Lines, [2]string{"Total", fmt.Sprint(stats.Prospects)})
	for _, lc := range stats.ProspectsBySource {
		prospects.Lines = append(prospects.Lines, [2]string{"Source: " + lc.Label, fmt.Sprint(lc.Count)})
	}
	for _, lc := range stats.ProspectsByStatus {
		prospects.Lines = append(prospects.Lines, [2]string{"Status: " + lc.Label, fmt.Sprint(lc.Count)})
	}

	activity := utils.ReportSection{
		Title: "Activity",
		Lines: [][2]string{
			{"Open tasks", fmt.Sprint(stats.OpenTasks)},
			{"Overdue tasks", fmt.Sprint(stats.OverdueTasks)},
			{"Active sequence enrolments", fmt.Sprint(stats.ActiveSequences)},
			{"Unread messages", fmt.Sprint(stats.UnreadMessages)},
		},
	}

	billing := utils.ReportSection{
		Title: "Billing",
		Lines: [][2]string{
			{"Outstanding", utils.FormatCents(stats.Outstanding, currency)},
			{"Paid in the last 30 days", utils.FormatCents(stats.PaidLast30Days, currency)},
		},
	}

	return []utils.ReportSection{pipeline, prospects, activity, billing}, nil
}

type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

type TimeSeries struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Activity buckets new prospects, won deals and completed tasks over the last four weeks
// ("month") or the last twelve months ("year").
func (s *ReportService) Activity(rc *utils.RequestContext, timeRange string) (*TimeSeries, error) {
	db := s.DB.WithContext(rc.Context())
	now := s.Now()

	type bucket struct {
		label      string
		start, end time.Time
	}
	var buckets []bucket
	if timeRange == "month" {
		start := now.AddDate(0, 0, -28)
		for i := 0; i < 4; i++ {
			b := start.AddDate(0, 0, 7*i)
			buckets = append(buckets, bucket{fmt.Sprintf("Week %d", i+1), b, b.AddDate(0, 0, 7)})
		}
	} else {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -11, 0)
		for i := 0; i < 12; i++ {
			b := first.AddDate(0, i, 0)
			buckets = append(buckets, bucket{b.Format("Jan"), b, b.AddDate(0, 1, 0)})
		}
	}

	series := &TimeSeries{
		Datasets: []Dataset{
			{Label: "New prospects"},
			{Label: "Deals won"},
			{Label: "Tasks completed"},
		},
	}
	for _, b := range buckets {
		series.Labels = append(series.Labels, b.label)

		var prospects, won, tasks int64
		if err := db.Model(&models.Prospect{}).
			Where("user_id = ? AND created_at >= ? AND created_at < ?", rc.UserID, b.start, b.end).
			Count(&prospects).Error; err != nil {
			return nil, fmt.Errorf("failed to count prospects: %w", err)
		}
		if err := db.Model(&models.Deal{}).
			Where("user_id = ? AND stage = ? AND closed_at >= ? AND closed_at < ?", rc.UserID, models.DealStageWon, b.start, b.end).
			Count(&won).Error; err != nil {
			return nil, fmt.Errorf("failed to count deals: %w", err)
		}
		if err := db.Model(&models.Task{}).
			Where("user_id = ? AND completed = ? AND completed_at >= ? AND completed_at < ?", rc.UserID, true, b.start, b.end).
			Count(&tasks).Error; err != nil {
			return nil, fmt.Errorf("failed to count tasks: %w", err)
		}

		series.Datasets[0].Data = append(series.Datasets[0].Data, float64(prospects))
		series.Datasets[1].Data = append(series.Datasets[1].Data, float64(won))
		series.Datasets[2].Data = append(series.Datasets[2].Data, float64(tasks))
	}
	return series, nil
}
