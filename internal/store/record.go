package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Record is one row of the transactions table. Extra carries source columns
// the builder did not map to a named field; they pass through untouched.
type Record struct {
	TxID       int64
	PANNumbers string
	Buyer      string
	Seller     string
	Age        *int64
	Score      *int64
	PANUpper   string
	NameNorm   string
	SourceFile string
	Extra      map[string]any
}

var coreFields = map[string]struct{}{
	"tx_id": {}, "pan_numbers": {}, "buyer": {}, "seller": {}, "age": {},
	"score": {}, "pan_upper": {}, "name_norm": {}, "source_file": {},
}

// IsCoreField reports whether name is one of the fixed Record columns.
func IsCoreField(name string) bool {
	_, ok := coreFields[name]
	return ok
}

// MarshalJSON writes the fixed columns in table order followed by the extra
// columns sorted by key, so equal records always encode to equal bytes.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(b)
		return nil
	}

	core := []struct {
		key string
		val any
	}{
		{"tx_id", r.TxID},
		{"pan_numbers", r.PANNumbers},
		{"buyer", r.Buyer},
		{"seller", r.Seller},
		{"age", r.Age},
		{"score", r.Score},
		{"pan_upper", r.PANUpper},
		{"name_norm", r.NameNorm},
		{"source_file", r.SourceFile},
	}
	for _, f := range core {
		if err := write(f.key, f.val); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		if !IsCoreField(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, r.Extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON is the inverse of MarshalJSON. Unknown keys land in Extra
// with numbers kept as json.Number.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record{}
	for k, v := range raw {
		var err error
		switch k {
		case "tx_id":
			err = json.Unmarshal(v, &r.TxID)
		case "pan_numbers":
			err = json.Unmarshal(v, &r.PANNumbers)
		case "buyer":
			err = json.Unmarshal(v, &r.Buyer)
		case "seller":
			err = json.Unmarshal(v, &r.Seller)
		case "age":
			err = json.Unmarshal(v, &r.Age)
		case "score":
			err = json.Unmarshal(v, &r.Score)
		case "pan_upper":
			err = json.Unmarshal(v, &r.PANUpper)
		case "name_norm":
			err = json.Unmarshal(v, &r.NameNorm)
		case "source_file":
			err = json.Unmarshal(v, &r.SourceFile)
		default:
			var val any
			val, err = decodeValue(v)
			if err == nil {
				if r.Extra == nil {
					r.Extra = make(map[string]any)
				}
				r.Extra[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("decoding %s: %w", k, err)
		}
	}
	return nil
}

// DecodeExtra parses the extra column as stored in the database.
func DecodeExtra(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	v, err := decodeValue([]byte(s))
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("extra column is %T, want object", v)
	}
	return m, nil
}

// EncodeExtra is the inverse of DecodeExtra.
func EncodeExtra(extra map[string]any) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeValue(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
