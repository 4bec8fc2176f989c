package cache

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// KeyPrefix namespaces every Kestrel entry in a shared backend.
const KeyPrefix = "kestrel"

// Key builds a deterministic cache key from a namespace, an identifier and
// a parameter map. Nil-valued parameters are filtered before hashing, so two
// logically identical requests always produce the same key and any parameter
// value change produces a different one.
func Key(namespace, identifier string, params map[string]any) string {
	return KeyPrefix + ":" + namespace + ":" + identifier + ":" + hashParams(params)
}

// NamespacePrefix returns the key prefix shared by all entries in a
// namespace. Used for pattern eviction.
func NamespacePrefix(namespace string) string {
	return KeyPrefix + ":" + namespace + ":"
}

func hashParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(stringify(params[k]))
		_, _ = d.WriteString(";")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// stringify renders a parameter value deterministically. Slices hash their
// elements in order; maps recurse through sorted keys.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		out := ""
		for _, s := range val {
			out += s + ","
		}
		return "[" + out + "]"
	case map[string]any:
		inner := make([]string, 0, len(val))
		for k, vv := range val {
			if vv == nil {
				continue
			}
			inner = append(inner, k+"="+stringify(vv))
		}
		sort.Strings(inner)
		out := ""
		for _, s := range inner {
			out += s + ";"
		}
		return "{" + out + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}
