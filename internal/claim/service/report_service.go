package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/repository"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"github.com/xuri/excelize/v2"
)

// ReportService 报表服务
type ReportService struct {
	claims ClaimStore
	loc    *time.Location
}

// NewReportService 创建报表服务
func NewReportService(claims ClaimStore, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{claims: claims, loc: loc}
}

// ReportRange is an inclusive range of calendar months.
type ReportRange struct {
	FromYear  int
	FromMonth int
	ToYear    int
	ToMonth   int
}

// SingleMonth is the range covering one month.
func SingleMonth(year, month int) ReportRange {
	return ReportRange{FromYear: year, FromMonth: month, ToYear: year, ToMonth: month}
}

// Bounds returns the half-open time interval of the range in loc.
func (r ReportRange) Bounds(loc *time.Location) (time.Time, time.Time, error) {
	if r.FromMonth < 1 || r.FromMonth > 12 || r.ToMonth < 1 || r.ToMonth > 12 {
		return time.Time{}, time.Time{}, fmt.Errorf("month must be between 1 and 12")
	}
	from := time.Date(r.FromYear, time.Month(r.FromMonth), 1, 0, 0, 0, 0, loc)
	to := time.Date(r.ToYear, time.Month(r.ToMonth), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("range ends before it starts")
	}
	if to.After(from.AddDate(1, 0, 0)) {
		return time.Time{}, time.Time{}, fmt.Errorf("range is longer than 12 months")
	}
	return from, to, nil
}

var cpmReportHeaders = []string{
	"เลขที่เอกสาร", "ผู้แจ้ง", "หมวดหลัก", "หมวดย่อย", "วันที่เกิดเหตุ", "สถานที่",
	"สาเหตุ", "มูลค่าความเสียหาย", "สถานะ", "ค่าสินไหม", "ยอดสุทธิ", "วันที่ส่ง",
}

// ExportCPM builds the CPM claims workbook for claims submitted in r.
func (s *ReportService) ExportCPM(ctx context.Context, actor workflow.Actor, r ReportRange) (*excelize.File, string, error) {
	if actor.Role != entity.RoleInsurance && actor.Role != entity.RoleManager {
		return nil, "", &workflow.Error{Kind: workflow.ErrUnauthorized, Reason: "reports are limited to insurance and manager roles"}
	}
	from, to, err := r.Bounds(s.loc)
	if err != nil {
		return nil, "", &workflow.Error{Kind: workflow.ErrValidation, Reason: err.Error(), Fields: []string{"month"}}
	}

	claims, err := s.claims.List(ctx, repository.ClaimQuery{SubmittedFrom: &from, SubmittedTo: &to})
	if err != nil {
		return nil, "", fmt.Errorf("list claims: %w", err)
	}
	// oldest first in a report
	for i, j := 0, len(claims)-1; i < j; i, j = i+1, j-1 {
		claims[i], claims[j] = claims[j], claims[i]
	}

	f := excelize.NewFile()
	sheet := "CPM"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	amountStyle, _ := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00

	for i, h := range cpmReportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	var totalDamage, totalPayout, totalNet float64
	byStatus := make(map[entity.Status]int)
	for idx, c := range claims {
		row := idx + 2
		form := c.Form()
		st := c.FPPA04()
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), c.DocNum)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), c.CreatedByName)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), c.CategoryMain)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), c.CategorySub)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), form.AccidentDate)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), form.Location)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), form.Cause)
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), form.DamageAmount)
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), string(c.Status))
		f.SetCellValue(sheet, fmt.Sprintf("J%d", row), st.InsurancePayout)
		f.SetCellValue(sheet, fmt.Sprintf("K%d", row), st.NetAmount)
		f.SetCellValue(sheet, fmt.Sprintf("L%d", row), formatDate(c.SubmittedAt, s.loc))

		totalDamage += form.DamageAmount
		totalPayout += st.InsurancePayout
		totalNet += st.NetAmount
		byStatus[c.Status]++
	}

	// 汇总行
	summaryRow := len(claims) + 2
	summaryStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: 4})
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "รวม")
	f.SetCellValue(sheet, fmt.Sprintf("B%d", summaryRow), fmt.Sprintf("%s รายการ", FormatCount(len(claims))))
	f.SetCellValue(sheet, fmt.Sprintf("H%d", summaryRow), totalDamage)
	f.SetCellValue(sheet, fmt.Sprintf("J%d", summaryRow), totalPayout)
	f.SetCellValue(sheet, fmt.Sprintf("K%d", summaryRow), totalNet)
	if len(claims) > 0 {
		for _, col := range []string{"H", "J", "K"} {
			f.SetCellStyle(sheet, fmt.Sprintf("%s2", col), fmt.Sprintf("%s%d", col, summaryRow-1), amountStyle)
		}
	}
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("L%d", summaryRow), summaryStyle)

	colWidths := []float64{16, 22, 14, 14, 14, 24, 30, 16, 26, 14, 14, 12}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	// 状态汇总
	summary := "Summary"
	f.NewSheet(summary)
	f.SetCellValue(summary, "A1", "สถานะ")
	f.SetCellValue(summary, "B1", "จำนวน")
	f.SetCellStyle(summary, "A1", "B1", boldStyle)
	row := 2
	for _, st := range entity.AllStatuses {
		if n := byStatus[st]; n > 0 {
			f.SetCellValue(summary, fmt.Sprintf("A%d", row), string(st))
			f.SetCellValue(summary, fmt.Sprintf("B%d", row), n)
			row++
		}
	}
	f.SetCellValue(summary, fmt.Sprintf("A%d", row+1), "มูลค่าความเสียหายรวม")
	f.SetCellValue(summary, fmt.Sprintf("B%d", row+1), FormatAmount(totalDamage))
	f.SetCellValue(summary, fmt.Sprintf("A%d", row+2), "ยอดสุทธิรวม")
	f.SetCellValue(summary, fmt.Sprintf("B%d", row+2), FormatAmount(totalNet))
	f.SetColWidth(summary, "A", "A", 28)
	f.SetColWidth(summary, "B", "B", 18)

	filename := fmt.Sprintf("CPM_%04d%02d-%04d%02d.xlsx", r.FromYear, r.FromMonth, r.ToYear, r.ToMonth)
	return f, filename, nil
}
