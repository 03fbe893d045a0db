package handler

import (
	"time"

	"github.com/ballggwp/eclaim/internal/claim/service"
	"github.com/gin-gonic/gin"
)

// ReportHandler 报表处理器
type ReportHandler struct {
	svc *service.ReportService
}

// NewReportHandler 创建报表处理器
func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// CPM 导出CPM月报
// GET /api/v1/reports/cpm?month=&year=
// GET /api/v1/reports/cpm?fromMonth=&fromYear=&toMonth=&toYear=
func (h *ReportHandler) CPM(c *gin.Context) {
	now := time.Now()
	var r service.ReportRange
	if c.Query("fromMonth") != "" || c.Query("toMonth") != "" {
		r = service.ReportRange{
			FromYear:  queryInt(c, "fromYear", now.Year()),
			FromMonth: queryInt(c, "fromMonth", 0),
			ToYear:    queryInt(c, "toYear", now.Year()),
			ToMonth:   queryInt(c, "toMonth", 0),
		}
	} else {
		r = service.SingleMonth(queryInt(c, "year", now.Year()), queryInt(c, "month", int(now.Month())))
	}

	f, filename, err := h.svc.ExportCPM(c.Request.Context(), CurrentActor(c), r)
	if err != nil {
		Fail(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	if err := f.Write(c.Writer); err != nil {
		c.Error(err)
	}
}
