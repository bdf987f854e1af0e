package indexer

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/nlp"
	"github.com/Adithya-Monish-Kumar-K/txsearch/internal/store"
)

// columnAliases maps lower-cased source headers onto Record fields.
var columnAliases = map[string]string{
	"pan_numbers": "pan_numbers",
	"pan":         "pan_numbers",
	"pan_number":  "pan_numbers",
	"pan_no":      "pan_numbers",
	"buyer":       "buyer",
	"seller":      "seller",
	"age":         "age",
	"score":       "score",
}

// deriveEntry maps one source row onto a store entry. ok is false for rows
// with no identifier and no party text.
func deriveEntry(row map[string]any, sourceFile string) (store.Entry, bool) {
	rec := store.Record{SourceFile: sourceFile}
	for k, v := range row {
		field, known := columnAliases[strings.ToLower(strings.TrimSpace(k))]
		if !known {
			if store.IsCoreField(k) {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			rec.Extra[k] = v
			continue
		}
		switch field {
		case "pan_numbers":
			if s := asString(v); s != "" {
				rec.PANNumbers = s
			}
		case "buyer":
			rec.Buyer = asString(v)
		case "seller":
			rec.Seller = asString(v)
		case "age":
			rec.Age = asInt(v)
		case "score":
			rec.Score = asInt(v)
		}
	}
	if rec.PANNumbers == "" && rec.Buyer == "" && rec.Seller == "" {
		return store.Entry{}, false
	}

	pans := nlp.ExtractPANCodes(rec.PANNumbers)
	if len(pans) == 0 {
		if c := nlp.CanonicalizePAN(rec.PANNumbers); c != "" {
			pans = []string{c}
		}
	}
	names := mergeNames(nlp.ExtractNames(rec.Buyer), nlp.ExtractNames(rec.Seller))

	if len(pans) > 0 {
		rec.PANUpper = pans[0]
	}
	if len(names) > 0 {
		rec.NameNorm = names[0]
	}
	return store.Entry{Record: rec, PANs: pans, Names: names}, true
}

func mergeNames(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, n := range list {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// asInt accepts integers and integral float text such as "42.0". Anything
// else becomes null.
func asInt(v any) *int64 {
	s := asString(v)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
		f > math.MaxInt64 || f < math.MinInt64 {
		return nil
	}
	n := int64(f)
	return &n
}
