package rowmerge

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/anguspalmer/servicenow/internal/coerce"
)

// PrimaryKey selects how an incoming row's merge key is derived from its
// wire representation (spec §4.H "Primary key resolution: string -> field
// pick; list of strings -> md5 of concatenated key=value pairs sorted;
// absent -> md5 of all u_-prefixed key/values sorted"). Zero value means
// "absent".
type PrimaryKey struct {
	Field  string
	Fields []string
}

// Resolve computes wire's merge key. The resolver always operates on the
// wire (string-valued) row, never the typed row (spec §4.H "The resolver
// is applied to the encoded (wire) row").
func (pk PrimaryKey) Resolve(wire coerce.WireRow) string {
	switch {
	case pk.Field != "":
		if v, ok := wire[pk.Field]; ok {
			return stringify(v)
		}
		return ""
	case len(pk.Fields) > 0:
		return hashFields(wire, pk.Fields)
	default:
		return hashFields(wire, uPrefixedKeys(wire))
	}
}

func uPrefixedKeys(wire coerce.WireRow) []string {
	keys := make([]string, 0, len(wire))
	for k := range wire {
		if strings.HasPrefix(k, "u_") {
			keys = append(keys, k)
		}
	}
	return keys
}

// hashFields hashes crypto/md5 cannot be swapped for a pack-provided hash:
// no example repo ships a keyed or general-purpose hashing library, and
// this is a content fingerprint, not a security boundary.
func hashFields(wire coerce.WireRow, fields []string) string {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	var b strings.Builder
	for _, f := range sorted {
		v, ok := wire[f]
		if !ok {
			continue
		}
		b.WriteString(f)
		b.WriteByte('=')
		b.WriteString(stringify(v))
		b.WriteByte(';')
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return ""
	}
}
