package entity

import (
	"fmt"
	"math"
)

// AdjustmentType 加减项类型
type AdjustmentType string

const (
	AdjustmentPlus  AdjustmentType = "บวก"
	AdjustmentMinus AdjustmentType = "หัก"
)

// primaryAdjustmentCount is how many leading adjustments feed the insurance payout;
// the rest adjust the net amount.
const primaryAdjustmentCount = 3

// SettlementItem FPPA-04 损失明细
type SettlementItem struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Total       float64 `json:"total"`
	Exception   float64 `json:"exception"`
}

// Adjustment FPPA-04 加减项
type Adjustment struct {
	Type        AdjustmentType `json:"type"`
	Description string         `json:"description"`
	Amount      float64        `json:"amount"`
}

// Settlement FPPA-04 理算表
type Settlement struct {
	EventType         string           `json:"event_type"`
	ClaimRefNumber    string           `json:"claim_ref_number"`
	EventDescription  string           `json:"event_description"`
	ProductionYear    string           `json:"production_year"`
	AccidentDate      string           `json:"accident_date"`
	ReportedDate      string           `json:"reported_date"`
	ReceivedDocDate   string           `json:"received_doc_date"`
	Company           string           `json:"company"`
	Factory           string           `json:"factory"`
	PolicyNumber      string           `json:"policy_number"`
	SurveyorRefNumber string           `json:"surveyor_ref_number"`
	Items             []SettlementItem `json:"items"`
	Adjustments       []Adjustment     `json:"adjustments"`
	SignatureFiles    []string         `json:"signature_files"`
	InsurancePayout   float64          `json:"insurance_payout"`
	NetAmount         float64          `json:"net_amount"`
}

// DefaultSettlement returns the blank form the insurer starts from.
func DefaultSettlement() Settlement {
	return Settlement{
		Items: []SettlementItem{
			{Category: "1.1 รายการซ่อมแซม"},
			{Category: "1.2 รายการเปลี่ยนใหม่"},
			{Category: "1.3 รายการอื่นๆ (ไม่อยู่ในเงื่อนไขการเคลม)"},
			{Category: "1.4 ค่าบริการ"},
		},
		Adjustments: []Adjustment{
			{Type: AdjustmentMinus, Description: "ส่วนลดจากตัวแทนจำหน่าย"},
			{Type: AdjustmentMinus, Description: "รายได้จากการขายเศษซาก"},
			{Type: AdjustmentMinus, Description: "กำหนดวงเงินเอาประกันภัยต่ำกว่ามูลค่าที่แท้จริง"},
			{Type: AdjustmentPlus, Description: "รายการที่เจรจาต่อได้เพิ่มขึ้น"},
			{Type: AdjustmentMinus, Description: "รายการที่ปรับลดลง"},
			{Type: AdjustmentMinus, Description: "ความรับผิดชอบส่วนแรก 10% หรือขั้นต่ำ 20,000 (พลิกคว่ำ)"},
		},
	}
}

// Empty reports whether the form was never filled in.
func (s Settlement) Empty() bool {
	return len(s.Items) == 0 && len(s.Adjustments) == 0 && s.ClaimRefNumber == ""
}

// Clone returns a copy with independent slices.
func (s Settlement) Clone() Settlement {
	out := s
	if s.Items != nil {
		out.Items = append([]SettlementItem(nil), s.Items...)
	}
	if s.Adjustments != nil {
		out.Adjustments = append([]Adjustment(nil), s.Adjustments...)
	}
	if s.SignatureFiles != nil {
		out.SignatureFiles = append([]string(nil), s.SignatureFiles...)
	}
	return out
}

// Validate checks adjustment types and amounts.
func (s Settlement) Validate() error {
	if len(s.Items) == 0 {
		return fmt.Errorf("settlement has no items")
	}
	for i, it := range s.Items {
		if it.Total < 0 || it.Exception < 0 {
			return fmt.Errorf("item %d: amounts must not be negative", i+1)
		}
	}
	for i, a := range s.Adjustments {
		if a.Type != AdjustmentPlus && a.Type != AdjustmentMinus {
			return fmt.Errorf("adjustment %d: unknown type %q", i+1, a.Type)
		}
		if a.Amount < 0 {
			return fmt.Errorf("adjustment %d: amount must not be negative", i+1)
		}
	}
	return nil
}

// Coverage is the claimed total minus the excluded part.
func (s Settlement) Coverage() float64 {
	var total, exception float64
	for _, it := range s.Items {
		total += it.Total
		exception += it.Exception
	}
	return round2(total - exception)
}

// Calculate fills InsurancePayout and NetAmount.
func (s *Settlement) Calculate() {
	n := primaryAdjustmentCount
	if len(s.Adjustments) < n {
		n = len(s.Adjustments)
	}
	payout := s.Coverage() + signedSum(s.Adjustments[:n])
	s.InsurancePayout = round2(payout)
	s.NetAmount = round2(payout + signedSum(s.Adjustments[n:]))
}

func signedSum(adjs []Adjustment) float64 {
	var sum float64
	for _, a := range adjs {
		switch a.Type {
		case AdjustmentPlus:
			sum += a.Amount
		case AdjustmentMinus:
			sum -= a.Amount
		}
	}
	return sum
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
