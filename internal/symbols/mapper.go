package symbols

import "strings"

// Separator is the canonical separator between base and quote currency.
const Separator = "/"

// Mapper converts between canonical "EUR/USD" symbols and a broker's wire
// form such as "EUR_USD".
type Mapper struct {
	// Combination replaces the canonical separator on the wire. Empty keeps it.
	Combination string
	// Delimiter joins several wire symbols in one request.
	Delimiter string
}

// ToWire converts a canonical symbol to the broker's form.
func (m Mapper) ToWire(sym string) string {
	if m.Combination == "" {
		return sym
	}
	return strings.ReplaceAll(sym, Separator, m.Combination)
}

// FromWire converts a broker symbol back to canonical form.
func (m Mapper) FromWire(sym string) string {
	if m.Combination == "" || m.Combination == Separator {
		return sym
	}
	return strings.ReplaceAll(sym, m.Combination, Separator)
}

// JoinWire converts every symbol and joins them with Delimiter, defaulting
// to a comma.
func (m Mapper) JoinWire(syms []string) string {
	delim := m.Delimiter
	if delim == "" {
		delim = ","
	}
	wire := make([]string, 0, len(syms))
	for _, s := range syms {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		wire = append(wire, m.ToWire(s))
	}
	return strings.Join(wire, delim)
}
