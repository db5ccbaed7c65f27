package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dinehub/ordersync/errs"
)

// CanonicalID is the single normalized representation of an order identifier
// after resolving its number/string/array wire encodings.
type CanonicalID string

// String returns the identifier as stored.
func (id CanonicalID) String() string { return string(id) }

// NormalizeID collapses the three identifier encodings seen on the wire into
// one canonical id: a JSON number, a numeric string, or a single-element array
// holding a numeric string. Anything else is rejected with a parse error.
func NormalizeID(value any) (CanonicalID, error) {
	switch v := value.(type) {
	case nil:
		return "", idError("nil identifier")
	case CanonicalID:
		return normalizeString(string(v))
	case string:
		return normalizeString(v)
	case float64:
		// goccy/go-json decodes untyped JSON numbers as float64.
		if v != math.Trunc(v) {
			return "", idError(fmt.Sprintf("non-integral identifier %v", v))
		}
		return CanonicalID(strconv.FormatInt(int64(v), 10)), nil
	case int:
		return CanonicalID(strconv.Itoa(v)), nil
	case int64:
		return CanonicalID(strconv.FormatInt(v, 10)), nil
	case []any:
		if len(v) != 1 {
			return "", idError(fmt.Sprintf("identifier array has %d elements", len(v)))
		}
		return NormalizeID(v[0])
	case []string:
		if len(v) != 1 {
			return "", idError(fmt.Sprintf("identifier array has %d elements", len(v)))
		}
		return normalizeString(v[0])
	default:
		return "", idError(fmt.Sprintf("unsupported identifier type %T", value))
	}
}

func normalizeString(raw string) (CanonicalID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", idError("empty identifier")
	}
	parsed, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return "", idError(fmt.Sprintf("non-numeric identifier %q", trimmed))
	}
	return CanonicalID(strconv.FormatInt(parsed, 10)), nil
}

func idError(msg string) error {
	return errs.New("schema/id", errs.CodeParse, errs.WithMessage(msg))
}
