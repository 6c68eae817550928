package symbols

import "testing"

func TestWireConversion(t *testing.T) {
	tests := []struct {
		combination string
		canonical   string
		wire        string
	}{
		{"_", "EUR/USD", "EUR_USD"},
		{"", "EUR/USD", "EUR/USD"},
		{"-", "BTC/USDT", "BTC-USDT"},
		{"/", "GBP/JPY", "GBP/JPY"},
	}
	for _, tt := range tests {
		m := Mapper{Combination: tt.combination}
		if got := m.ToWire(tt.canonical); got != tt.wire {
			t.Errorf("ToWire(%q) with %q = %q want %q", tt.canonical, tt.combination, got, tt.wire)
		}
		if got := m.FromWire(tt.wire); got != tt.canonical {
			t.Errorf("FromWire(%q) with %q = %q want %q", tt.wire, tt.combination, got, tt.canonical)
		}
	}
}

func TestJoinWire(t *testing.T) {
	m := Mapper{Combination: "_", Delimiter: "%2C"}
	if got := m.JoinWire([]string{"EUR/USD", " ", "USD/JPY"}); got != "EUR_USD%2CUSD_JPY" {
		t.Fatalf("JoinWire() = %q", got)
	}
	if got := (Mapper{}).JoinWire([]string{"A/B", "C/D"}); got != "A/B,C/D" {
		t.Fatalf("default delimiter = %q", got)
	}
}
