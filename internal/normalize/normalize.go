package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Money resolves the heterogeneous money shapes the broker API returns into a
// plain float64: raw numbers, {units,nano} objects (values may arrive as JSON
// numbers or strings), numeric strings with either '.' or ',' as the decimal
// separator, and maps holding a single numeric somewhere inside. Returns nil
// when no numeric interpretation exists. Never panics.
func Money(val any) *float64 {
	switch v := val.(type) {
	case nil:
		return nil
	case float64:
		return ptr(v)
	case float32:
		return ptr(float64(v))
	case int:
		return ptr(float64(v))
	case int32:
		return ptr(float64(v))
	case int64:
		return ptr(float64(v))
	case string:
		return moneyFromString(v)
	case map[string]any:
		if _, hasUnits := v["units"]; hasUnits {
			if out := moneyFromUnitsNano(v); out != nil {
				return out
			}
		}
		// Fall back to the first numeric value inside the object.
		for _, inner := range v {
			switch inner.(type) {
			case float64, float32, int, int32, int64:
				return Money(inner)
			}
		}
		return nil
	default:
		return nil
	}
}

func moneyFromString(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return ptr(f)
}

// moneyFromUnitsNano handles the broker MoneyValue/Quotation shape.
// decimal keeps the units+nano arithmetic exact before the final float
// conversion (nano is 1e-9 of a currency unit).
func moneyFromUnitsNano(m map[string]any) *float64 {
	units, okU := asInt64(m["units"])
	nano, okN := asInt64(m["nano"])
	if !okU && !okN {
		return nil
	}
	d := decimal.NewFromInt(units).Add(decimal.New(nano, -9))
	f, _ := d.Float64()
	return ptr(f)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Date truncates a timestamp-like string to YYYY-MM-DD when its first ten
// characters parse as a calendar date. Anything else passes through trimmed:
// the sync tolerates non-ISO dates rather than failing the record.
func Date(value string) string {
	s := strings.TrimSpace(value)
	if len(s) >= 10 {
		cand := s[:10]
		if _, err := time.Parse("2006-01-02", cand); err == nil {
			return cand
		}
	}
	return s
}

// FloatEqual compares two optional floats with an absolute tolerance.
// Two nils are equal; nil versus a value is not.
func FloatEqual(a, b *float64, tol float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	diff := *a - *b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tol
}

// FloatField canonicalizes an optional float for fingerprinting: empty for
// nil, fixed 8-decimal rendering otherwise.
func FloatField(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 8, 64)
}

// Fingerprint hashes canonicalized field strings. Equal fingerprints imply
// byte-equal canonical fields; differing fingerprints say nothing about
// tolerance equality, so callers must only use a match as a short-circuit.
func Fingerprint(fields ...string) string {
	raw := strings.Join(fields, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func ptr(f float64) *float64 { return &f }
