package entity

import "testing"

func TestSettlementCalculate(t *testing.T) {
	s := DefaultSettlement()
	s.Items[0].Total = 50000
	s.Items[1].Total = 30000
	s.Items[2].Total = 5000
	s.Items[2].Exception = 5000
	s.Adjustments[0].Amount = 1000 // minus, primary
	s.Adjustments[1].Amount = 500  // minus, primary
	s.Adjustments[3].Amount = 2000 // plus, secondary
	s.Adjustments[5].Amount = 20000

	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	s.Calculate()

	if got := s.Coverage(); got != 80000 {
		t.Errorf("Coverage = %v, want 80000", got)
	}
	if s.InsurancePayout != 78500 {
		t.Errorf("InsurancePayout = %v, want 78500", s.InsurancePayout)
	}
	if s.NetAmount != 60500 {
		t.Errorf("NetAmount = %v, want 60500", s.NetAmount)
	}
}

func TestSettlementCalculateFewAdjustments(t *testing.T) {
	s := Settlement{
		Items:       []SettlementItem{{Total: 100.105}},
		Adjustments: []Adjustment{{Type: AdjustmentPlus, Amount: 10}},
	}
	s.Calculate()
	if s.InsurancePayout != 110.11 && s.InsurancePayout != 110.1 {
		t.Errorf("InsurancePayout = %v", s.InsurancePayout)
	}
	if s.NetAmount != s.InsurancePayout {
		t.Errorf("NetAmount = %v, want %v", s.NetAmount, s.InsurancePayout)
	}
}

func TestSettlementValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settlement
		wantErr bool
	}{
		{"defaults", DefaultSettlement(), false},
		{"no items", Settlement{}, true},
		{"negative total", Settlement{Items: []SettlementItem{{Total: -1}}}, true},
		{"bad type", Settlement{
			Items:       []SettlementItem{{Total: 1}},
			Adjustments: []Adjustment{{Type: "plus", Amount: 1}},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusDatesScan(t *testing.T) {
	var d StatusDates
	if err := d.Scan([]byte(`{"DRAFT":"2025-01-02T03:04:05Z"}`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, ok := d[StatusDraft]; !ok {
		t.Fatalf("expected DRAFT entry, got %v", d)
	}
	if err := d.Scan(nil); err != nil || len(d) != 0 {
		t.Fatalf("Scan(nil) = %v, %v", d, err)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		if _, err := ParseStatus(string(s)); err != nil {
			t.Errorf("ParseStatus(%s): %v", s, err)
		}
	}
	if _, err := ParseStatus("ARCHIVED"); err == nil {
		t.Error("expected error for unknown status")
	}
}
