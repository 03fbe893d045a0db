package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/testutil"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
)

func reportClaim(id, doc string, submitted time.Time, damage, net float64, status entity.Status) *entity.Claim {
	st := entity.Settlement{NetAmount: net, InsurancePayout: net}
	return &entity.Claim{
		ID:            id,
		DocNum:        doc,
		Status:        status,
		CategoryMain:  "CPM",
		CategorySub:   "vehicle",
		CreatedByName: "สมชาย ใจดี",
		CPMForm:       datatypes.NewJSONType(entity.CPMForm{AccidentDate: "2025-02-27", Location: "Rama 9", DamageAmount: damage}),
		Settlement:    datatypes.NewJSONType(st),
		SubmittedAt:   &submitted,
		CreatedAt:     submitted,
	}
}

func TestExportCPM(t *testing.T) {
	claims := testutil.NewMemoryClaimStore()
	claims.Put(reportClaim("a", "CPM-2025-0001", time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC), 1000, 800, entity.StatusCompleted))
	claims.Put(reportClaim("b", "CPM-2025-0002", time.Date(2025, 3, 20, 3, 0, 0, 0, time.UTC), 2500.5, 0, entity.StatusPendingInsurerReview))
	claims.Put(reportClaim("c", "CPM-2025-0003", time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC), 9999, 0, entity.StatusPendingInsurerReview))
	svc := NewReportService(claims, time.UTC)

	insurer := workflow.Actor{ID: "u-insurer", Role: entity.RoleInsurance}
	f, name, err := svc.ExportCPM(context.Background(), insurer, SingleMonth(2025, 3))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if name != "CPM_202503-202503.xlsx" {
		t.Errorf("filename = %s", name)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	book, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer book.Close()

	rows, err := book.GetRows("CPM")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	// header, two claims, totals
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(rows))
	}
	if rows[1][0] != "CPM-2025-0001" || rows[2][0] != "CPM-2025-0002" {
		t.Errorf("order = %s, %s", rows[1][0], rows[2][0])
	}
	total, _ := book.GetCellValue("CPM", "H4", excelize.Options{RawCellValue: true})
	if total != "3500.5" {
		t.Errorf("damage total = %q", total)
	}

	summary, err := book.GetRows("Summary")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary) < 3 || summary[1][0] != string(entity.StatusPendingInsurerReview) {
		t.Errorf("summary = %v", summary)
	}
}

func TestExportCPMRules(t *testing.T) {
	svc := NewReportService(testutil.NewMemoryClaimStore(), time.UTC)
	ctx := context.Background()

	user := workflow.Actor{ID: "u-1", Role: entity.RoleUser}
	if _, _, err := svc.ExportCPM(ctx, user, SingleMonth(2025, 3)); !errors.Is(err, workflow.ErrUnauthorized) {
		t.Errorf("user export: err = %v", err)
	}

	manager := workflow.Actor{ID: "u-m", Role: entity.RoleManager}
	for _, r := range []ReportRange{
		SingleMonth(2025, 13),
		{FromYear: 2025, FromMonth: 5, ToYear: 2025, ToMonth: 2},
		{FromYear: 2023, FromMonth: 1, ToYear: 2025, ToMonth: 1},
	} {
		if _, _, err := svc.ExportCPM(ctx, manager, r); !errors.Is(err, workflow.ErrValidation) {
			t.Errorf("range %+v: err = %v", r, err)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(1234567.891); got != "1,234,567.89" {
		t.Errorf("FormatAmount = %q", got)
	}
	if got := FormatCount(12000); got != "12,000" {
		t.Errorf("FormatCount = %q", got)
	}
}
