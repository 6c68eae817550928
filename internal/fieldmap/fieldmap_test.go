package fieldmap

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func decodeNumbers(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestResolve(t *testing.T) {
	obj := decode(t, `{"a":{"b":{"c":5}},"n":null,"s":"x","arr":[1,2]}`)
	tests := []struct {
		path    string
		present bool
	}{
		{"a.b.c", true},
		{"a.b", true},
		{"a.x", false},
		{"n", false},
		{"s.inner", false},
		{"arr", true},
		{"", false},
		{"missing", false},
	}
	for _, tt := range tests {
		if got := Resolve(obj, tt.path).Present(); got != tt.present {
			t.Errorf("Resolve(%q).Present() = %v want %v", tt.path, got, tt.present)
		}
	}
}

func TestCoercion(t *testing.T) {
	obj := decode(t, `{"t":"TRUE","f":"no","n":3.9,"neg":-2.7,"z":0,"s":"12abc","sf":"1.5x","bad":"abc","b":true,"i":3,"h":1.5}`)

	boolTests := map[string]bool{"t": true, "f": false, "n": true, "z": false, "b": true}
	for path, want := range boolTests {
		if got, ok := Resolve(obj, path).Bool(); !ok || got != want {
			t.Errorf("Bool(%s) = %v,%v", path, got, ok)
		}
	}

	longTests := map[string]int64{"n": 3, "neg": -2, "s": 12, "bad": 0, "b": 1, "sf": 1}
	for path, want := range longTests {
		if got, ok := Resolve(obj, path).Long(); !ok || got != want {
			t.Errorf("Long(%s) = %v,%v want %v", path, got, ok, want)
		}
	}

	dblTests := map[string]float64{"n": 3.9, "sf": 1.5, "bad": 0, "b": 1, "s": 12}
	for path, want := range dblTests {
		if got, ok := Resolve(obj, path).Double(); !ok || got != want {
			t.Errorf("Double(%s) = %v,%v want %v", path, got, ok, want)
		}
	}

	strTests := map[string]string{"i": "3", "h": "1.5", "b": "true", "s": "12abc"}
	for path, want := range strTests {
		if got, ok := Resolve(obj, path).String(); !ok || got != want {
			t.Errorf("String(%s) = %q,%v want %q", path, got, ok, want)
		}
	}

	if v, ok := Resolve(obj, "absent").Double(); ok || v != 0 {
		t.Errorf("absent double = %v,%v", v, ok)
	}
	if ts, ok := Resolve(obj, "absent").Timestamp(); ok || !ts.Equal(Epoch) {
		t.Errorf("absent timestamp = %v,%v", ts, ok)
	}
}

func TestCoercionNumberLiterals(t *testing.T) {
	obj := decodeNumbers(t, `{"id":9007199254740993,"px":1.10,"z":0,"neg":-2.7,"ts":1704067200,"big":1e400}`)

	if got, ok := Resolve(obj, "id").String(); !ok || got != "9007199254740993" {
		t.Errorf("String(id) = %q,%v", got, ok)
	}
	if got, ok := Resolve(obj, "id").Long(); !ok || got != 9007199254740993 {
		t.Errorf("Long(id) = %v,%v", got, ok)
	}
	if got, ok := Resolve(obj, "px").String(); !ok || got != "1.1" {
		t.Errorf("String(px) = %q,%v", got, ok)
	}
	if got, ok := Resolve(obj, "px").Double(); !ok || got != 1.1 {
		t.Errorf("Double(px) = %v,%v", got, ok)
	}
	if got, ok := Resolve(obj, "neg").Long(); !ok || got != -2 {
		t.Errorf("Long(neg) = %v,%v", got, ok)
	}
	if got, ok := Resolve(obj, "z").Bool(); !ok || got {
		t.Errorf("Bool(z) = %v,%v", got, ok)
	}
	if got, ok := Resolve(obj, "px").Bool(); !ok || !got {
		t.Errorf("Bool(px) = %v,%v", got, ok)
	}
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got, ok := Resolve(obj, "ts").Timestamp(); !ok || !got.Equal(want) {
		t.Errorf("Timestamp(ts) = %v,%v", got, ok)
	}
	if got, ok := Resolve(obj, "big").String(); !ok || got == "" {
		t.Errorf("String(big) = %q,%v", got, ok)
	}
}

func TestLeadingFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1.5", 1.5},
		{" -2.25xyz", -2.25},
		{"+3", 3},
		{".5", 0.5},
		{"7.", 7},
		{"1e3", 1000},
		{"2.5E-1kg", 0.25},
		{"4e", 4},
		{"4e+", 4},
		{"1.2.3", 1.2},
		{"abc", 0},
		{"-", 0},
		{".", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := leadingFloat(tt.in); got != tt.want {
			t.Errorf("leadingFloat(%q) = %v want %v", tt.in, got, tt.want)
		}
	}
}

func TestDoubleLongGarbageSuffix(t *testing.T) {
	v := Value{raw: "1.5" + strings.Repeat("x", 1<<20), present: true}
	start := time.Now()
	got, ok := v.Double()
	if !ok || got != 1.5 {
		t.Fatalf("Double() = %v,%v", got, ok)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Double() took %v on a 1MiB field", elapsed)
	}
}

func TestTimestamp(t *testing.T) {
	obj := decode(t, `{"epoch":1700000000,"iso":"2024-01-02T03:04:05","space":"2024-01-02 03:04:05","slash":"2024/01/02 03:04:05","frac":"2024-01-02T03:04:05.123Z","junk":"yesterday"}`)
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, path := range []string{"iso", "space", "slash", "frac"} {
		got, ok := Resolve(obj, path).Timestamp()
		if !ok || !got.Equal(want) {
			t.Errorf("Timestamp(%s) = %v", path, got)
		}
	}
	if got, _ := Resolve(obj, "epoch").Timestamp(); got.Unix() != 1700000000 {
		t.Errorf("epoch timestamp = %v", got)
	}
	if got, ok := Resolve(obj, "junk").Timestamp(); !ok || !got.Equal(Epoch) {
		t.Errorf("junk timestamp = %v,%v", got, ok)
	}
}

func TestParseSchema(t *testing.T) {
	s := ParseSchema("prices: Symbol-instrument, Bid-bids.0 ,Ask-quote.ask,broken, -x")
	if s.Target != "prices" {
		t.Fatalf("target = %q", s.Target)
	}
	if s.Path("Symbol") != "instrument" || s.Path("Ask") != "quote.ask" || s.Path("Bid") != "bids.0" {
		t.Fatalf("fields = %v", s.Fields)
	}
	if len(s.Fields) != 3 {
		t.Fatalf("malformed pairs kept: %v", s.Fields)
	}

	s = ParseSchema("Balance-balance")
	if s.Target != "" || s.Path("Balance") != "balance" {
		t.Fatalf("no-target schema = %+v", s)
	}

	// dashes inside the path survive; only the first one splits
	s = ParseSchema("x:OrderID-order-id")
	if s.Path("OrderID") != "order-id" {
		t.Fatalf("path = %q", s.Path("OrderID"))
	}
}

func TestRecordUnmappedFieldIsAbsent(t *testing.T) {
	r := Record{Object: decode(t, `{"pl":1}`), Schema: ParseSchema("PL-pl")}
	if r.Dbl("PL") != 1 {
		t.Fatalf("PL = %v", r.Dbl("PL"))
	}
	if r.Get("GrossPL").Present() {
		t.Fatalf("unmapped field reported present")
	}
	if r.DblOr("GrossPL", -1) != -1 {
		t.Fatalf("fallback not applied")
	}
}
