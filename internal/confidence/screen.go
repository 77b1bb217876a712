package confidence

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-validator/internal/model"
)

// Discarded pairs a rejected tuple with the reason it was dropped.
type Discarded struct {
	Evidence model.EvidenceTuple
	Err      error
}

// Screen drops malformed tuples before aggregation. A tuple is malformed if
// it fails EvidenceTuple.Validate, belongs to a different provider or field,
// carries an unparseable date for a date field, or fails the field's
// identifier check. Discarding one tuple never affects the others.
func Screen(providerID, field string, kind model.FieldKind, check string, evidence []model.EvidenceTuple) ([]model.EvidenceTuple, []Discarded) {
	kept := make([]model.EvidenceTuple, 0, len(evidence))
	var dropped []Discarded

	reject := func(e model.EvidenceTuple, err error) {
		dropped = append(dropped, Discarded{
			Evidence: e,
			Err:      model.NewEngineError(model.ErrorCategoryMalformedEvidence, err),
		})
	}

	for _, e := range evidence {
		if err := e.Validate(); err != nil {
			dropped = append(dropped, Discarded{Evidence: e, Err: err})
			continue
		}
		if e.ProviderID != providerID || e.FieldName != field {
			reject(e, eris.Errorf("evidence %s is for %s/%s, not %s/%s", e.ID, e.ProviderID, e.FieldName, providerID, field))
			continue
		}
		if kind == model.FieldKindDate {
			if _, ok := ParseDate(e.Value); !ok {
				reject(e, eris.Errorf("evidence %s: unparseable date %q", e.ID, e.Value))
				continue
			}
		}
		if check == model.IdentifierCheckNPILuhn && !ValidNPI(e.Value) {
			reject(e, eris.Errorf("evidence %s: %q fails NPI checksum", e.ID, e.Value))
			continue
		}
		kept = append(kept, e)
	}
	return kept, dropped
}

// ValidNPI reports whether s is a 10-digit National Provider Identifier with
// a valid Luhn check digit. NPIs are checked with the card-issuer prefix
// 80840 prepended.
func ValidNPI(s string) bool {
	s = NormalizeIdentifier(s)
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	digits := "80840" + s
	sum := 0
	for i := 0; i < len(digits); i++ {
		n := int(digits[len(digits)-1-i] - '0')
		if i%2 == 1 {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
	}
	return sum%10 == 0
}
