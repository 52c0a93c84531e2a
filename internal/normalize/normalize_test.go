package normalize

import "testing"

func TestMoney(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *float64
	}{
		{"nil", nil, nil},
		{"float", 12.5, f(12.5)},
		{"int", 42, f(42)},
		{"units_nano", map[string]any{"units": float64(101), "nano": float64(500000000)}, f(101.5)},
		{"units_nano_strings", map[string]any{"units": "7", "nano": "250000000"}, f(7.25)},
		{"units_only", map[string]any{"units": float64(3), "nano": nil}, f(3)},
		{"string_dot", "15.75", f(15.75)},
		{"string_comma", "15,75", f(15.75)},
		{"string_junk", "n/a", nil},
		{"map_first_numeric", map[string]any{"value": 9.0}, f(9)},
		{"map_no_numeric", map[string]any{"value": "x"}, nil},
		{"unsupported", []any{1, 2}, nil},
	}
	for _, tt := range tests {
		got := Money(tt.in)
		if (got == nil) != (tt.want == nil) {
			t.Fatalf("%s: Money(%v) = %v, want %v", tt.name, tt.in, got, tt.want)
		}
		if got != nil && *got != *tt.want {
			t.Fatalf("%s: Money(%v) = %v, want %v", tt.name, tt.in, *got, *tt.want)
		}
	}
}

func TestDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-01-10T15:04:05Z", "2025-01-10"},
		{"2025-01-10", "2025-01-10"},
		{"  2025-01-10  ", "2025-01-10"},
		{"10.01.2025", "10.01.2025"},
		{"not-a-date-at-all", "not-a-date-at-all"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Date(tt.in); got != tt.want {
			t.Fatalf("Date(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFloatEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b *float64
		tol  float64
		want bool
	}{
		{"both_nil", nil, nil, 1e-6, true},
		{"one_nil", nil, f(1), 1e-6, false},
		{"equal", f(100), f(100), 1e-6, true},
		{"within_tol", f(100), f(100.0000005), 1e-6, true},
		{"outside_tol", f(100), f(100.001), 1e-6, false},
	}
	for _, tt := range tests {
		if got := FloatEqual(tt.a, tt.b, tt.tol); got != tt.want {
			t.Fatalf("%s: FloatEqual = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("SBER", "BUY", "rub", FloatField(f(305.5)), FloatField(nil))
	b := Fingerprint("SBER", "BUY", "rub", FloatField(f(305.5)), FloatField(nil))
	if a != b {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}
	c := Fingerprint("SBER", "BUY", "rub", FloatField(f(305.6)), FloatField(nil))
	if a == c {
		t.Fatalf("fingerprint ignored field change")
	}
}

func f(v float64) *float64 { return &v }
