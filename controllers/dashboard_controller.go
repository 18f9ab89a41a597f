package controller

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"growthos/services"
	"growthos/utils"
)

type DashboardController struct {
	Logger  *logrus.Entry
	Reports *services.ReportService
	Issuer  string
}

func NewDashboardController(logger *logrus.Entry, reports *services.ReportService, issuer string) *DashboardController {
	return &DashboardController{
		Logger:  logger,
		Reports: reports,
		Issuer:  issuer,
	}
}

// GetDashboardStats returns summary statistics for the dashboard cards
func (dc *DashboardController) GetDashboardStats(c *fiber.Ctx) error {
	stats, err := dc.Reports.Dashboard(requestContext(c))
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get dashboard stats", err)
	}
	return c.JSON(utils.SuccessResponse(stats))
}

func (dc *DashboardController) GetActivityOverTime(c *fiber.Ctx) error {
	timeRange := c.Query("range", "year") // month, year
	if timeRange != "month" && timeRange != "year" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "range must be month or year", nil)
	}

	series, err := dc.Reports.Activity(requestContext(c), timeRange)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get activity", err)
	}
	return c.JSON(utils.SuccessResponse(series))
}

// GetPipelinePDF renders the dashboard figures as a downloadable report.
func (dc *DashboardController) GetPipelinePDF(c *fiber.Ctx) error {
	rc := requestContext(c)

	sections, err := dc.Reports.PipelineReport(rc)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to build report", err)
	}

	now := time.Now()
	data, err := utils.RenderReportPDF(dc.Issuer+" pipeline report", now, sections)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to render report", err)
	}

	dc.Logger.WithFields(rc.Fields()).WithField("bytes", len(data)).Debug("Pipeline report rendered")

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "pipeline-"+now.Format("2006-01-02")+".pdf"))
	return c.Send(data)
}
