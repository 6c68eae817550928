package models

import (
	"testing"
	"time"
)

func TestPeriodDuration(t *testing.T) {
	tests := []struct {
		code string
		want time.Duration
		ok   bool
	}{
		{"m1", 60 * time.Second, true},
		{"m15", 900 * time.Second, true},
		{"H8", 28800 * time.Second, true},
		{"D1", 86400 * time.Second, true},
		{"W1", 604800 * time.Second, true},
		{"M1", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := PeriodDuration(tt.code)
		if got != tt.want || ok != tt.ok {
			t.Errorf("PeriodDuration(%q) = %v,%v want %v,%v", tt.code, got, ok, tt.want, tt.ok)
		}
	}
	for _, code := range PeriodCodes() {
		if _, err := ParsePeriod(code); err != nil {
			t.Errorf("listed code %s not resolvable: %v", code, err)
		}
	}
	if _, err := ParsePeriod("H5"); err == nil {
		t.Errorf("ParsePeriod(H5) should fail")
	}
}

func TestTradePLSentinel(t *testing.T) {
	tr := Trade{PL: PLUnknown, GrossPL: 0}
	if tr.HasPL() {
		t.Fatalf("sentinel PL reported as present")
	}
	if !tr.HasGrossPL() {
		t.Fatalf("zero gross PL must count as reported")
	}
}

func TestFillEquity(t *testing.T) {
	a := Account{Balance: 1000, GrossPL: -25}
	a.FillEquity()
	if a.Equity != 975 {
		t.Fatalf("equity = %v", a.Equity)
	}
	a = Account{Balance: 1000, Equity: 1200}
	a.FillEquity()
	if a.Equity != 1200 {
		t.Fatalf("reported equity overwritten: %v", a.Equity)
	}
}

func TestSideSign(t *testing.T) {
	if SideBuy.Sign() != 1 || SideSell.Sign() != -1 || SideUnknown.Sign() != 0 {
		t.Fatalf("unexpected side signs")
	}
}
