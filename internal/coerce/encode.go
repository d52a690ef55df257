package coerce

import (
	"context"
	"math"
	"regexp"
	"strconv"

	"github.com/anguspalmer/servicenow/internal/apperr"
	"github.com/anguspalmer/servicenow/internal/schema"
	"github.com/anguspalmer/servicenow/status"
)

// guidPattern matches a 32-hex-digit GUID (spec §4.D "must be a 32-hex GUID
// or empty").
var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Encode converts a typed Row back into a wire row using tbl's column
// schema. st receives truncation warnings (spec §4.D "stringify, truncate
// to max_length with a warning"); a nil st is replaced with status.Nop.
//
// Encode is flat: the inverse of dotted-key nested decoding is not
// required (spec §4.D "On encode: the inverse is not required, writes are
// flat").
func Encode(ctx context.Context, tbl *schema.Table, row Row, st status.Status) (WireRow, error) {
	if st == nil {
		st = status.Nop{}
	}
	wire := make(WireRow, len(row))
	for name, v := range row {
		col, ok := tbl.Get(name)
		if !ok {
			wire[name] = encodeOpaque(v)
			continue
		}
		s, err := encodeScalar(col, v, st)
		if err != nil {
			return nil, err
		}
		wire[name] = s
	}
	return wire, nil
}

func encodeScalar(col schema.Column, v TypedValue, st status.Status) (string, error) {
	if v.IsNull() {
		if col.Type == "boolean" {
			return "0", nil
		}
		return "", nil
	}

	switch col.Type {
	case "boolean":
		if v.Bool {
			return "1", nil
		}
		return "0", nil

	case "integer", "long":
		switch v.Kind {
		case KindInt:
			return strconv.FormatInt(v.Int, 10), nil
		case KindFloat:
			return strconv.FormatInt(int64(math.Round(v.Float)), 10), nil
		case KindString:
			return v.String, nil
		default:
			return "", apperr.Coercionf("cannot encode value as integer", "column", col.Name)
		}

	case "float":
		f := floatOf(v)
		rounded := math.Round(f*1e7) / 1e7
		return strconv.FormatFloat(rounded, 'f', -1, 64), nil

	case "decimal":
		f := floatOf(v)
		rounded := math.Round(f*1e2) / 1e2
		return strconv.FormatFloat(rounded, 'f', -1, 64), nil

	case "glide_date_time":
		if v.Kind != KindDate {
			return "", apperr.Coercionf("cannot encode value as glide_date_time", "column", col.Name)
		}
		return v.Date.UTC().Truncate(0).Format(dateLayoutUTC), nil

	case "reference", "glide_list":
		s := stringOf(v)
		if s != "" && !guidPattern.MatchString(s) {
			return "", apperr.Coercionf("reference value is not a 32-hex GUID", "column", col.Name, "value", s)
		}
		return s, nil

	default: // string, text, html, url
		s := stringOf(v)
		if col.MaxLength > 0 && len(s) > col.MaxLength {
			st.Warn("servicenow: truncating column value to max_length", "column", col.Name, "max_length", col.MaxLength, "actual_length", len(s))
			s = s[:col.MaxLength]
		}
		return s, nil
	}
}

func floatOf(v TypedValue) float64 {
	switch v.Kind {
	case KindFloat:
		return v.Float
	case KindInt:
		return float64(v.Int)
	case KindString:
		f, _ := strconv.ParseFloat(v.String, 64)
		return f
	default:
		return 0
	}
}

func stringOf(v TypedValue) string {
	switch v.Kind {
	case KindString:
		return v.String
	case KindGUID:
		return v.GUID
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func encodeOpaque(v TypedValue) interface{} {
	switch v.Kind {
	case KindNested:
		out := make(map[string]interface{}, len(v.Nested))
		for k, nv := range v.Nested {
			out[k] = encodeOpaque(nv)
		}
		return out
	case KindNull:
		return nil
	default:
		return stringOf(v)
	}
}
