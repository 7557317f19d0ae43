// Package sqlwhere builds the attribute filters sent to feature services
// when looking up study-area rows.
package sqlwhere

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

const (
	// ProjectNumberField holds the project identifier on the study-area layer.
	ProjectNumberField = "project_number"
	// EndDateField is null on the active row of a project.
	EndDateField = "EndDate"
)

// FieldKind is the declared storage type of the project number field.
type FieldKind int

const (
	// FieldUnknown means the schema could not be read; the literal is inferred from the value.
	FieldUnknown FieldKind = iota
	FieldNumeric
	FieldText
)

func (k FieldKind) String() string {
	switch k {
	case FieldNumeric:
		return "numeric"
	case FieldText:
		return "text"
	default:
		return "unknown"
	}
}

// FieldKindFromEsri maps an esriFieldType* name to a FieldKind.
func FieldKindFromEsri(esriType string) FieldKind {
	switch strings.ToLower(strings.TrimSpace(esriType)) {
	case "esrifieldtypeoid", "esrifieldtypesmallinteger", "esrifieldtypeinteger",
		"esrifieldtypebiginteger", "esrifieldtypesingle", "esrifieldtypedouble":
		return FieldNumeric
	case "esrifieldtypestring", "esrifieldtypeguid", "esrifieldtypeglobalid", "esrifieldtypedate":
		return FieldText
	default:
		return FieldUnknown
	}
}

// ActiveFilter selects rows whose end date is unset.
func ActiveFilter() string {
	return EndDateField + " IS NULL"
}

// ProjectFilter returns the where clause selecting the active row for a
// project. An empty project number selects every active row.
func ProjectFilter(projectNumber string, kind FieldKind) string {
	value := strings.TrimSpace(projectNumber)
	if value == "" {
		return ActiveFilter()
	}
	return fmt.Sprintf("%s = %s AND %s", ProjectNumberField, Literal(value, kind), ActiveFilter())
}

// Literal renders value as a SQL literal for a field of the given kind.
// Numeric and unknown fields get a bare integer when the value is integral;
// everything else is single-quoted with embedded quotes doubled.
func Literal(value string, kind FieldKind) string {
	value = strings.TrimSpace(value)
	if kind != FieldText {
		if n, ok := integerLiteral(value); ok {
			return n
		}
	}
	return Quote(value)
}

// Quote wraps s in single quotes, doubling any quote it contains.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Unquote reverses Quote. It reports false if s is not a quoted literal.
func Unquote(s string) (string, bool) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", false
	}
	inner := s[1 : len(s)-1]
	if strings.Count(inner, "'")%2 != 0 {
		return "", false
	}
	return strings.ReplaceAll(inner, "''", "'"), true
}

// integerLiteral reports the canonical integer form of value, accepting
// plain digit strings of any length and floats with no fractional part.
func integerLiteral(value string) (string, bool) {
	if value == "" {
		return "", false
	}
	if isDigits(value) {
		var n big.Int
		if _, ok := n.SetString(value, 10); ok {
			return n.String(), true
		}
		return "", false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return "", false
	}
	bf := new(big.Float).SetFloat64(f)
	n, _ := bf.Int(nil)
	return n.String(), true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
