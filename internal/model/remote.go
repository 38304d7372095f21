package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Remote field names as reported by the CRM.
const (
	FieldFirstName   = "first name"
	FieldLastName    = "last name"
	FieldEmail       = "email"
	FieldDescription = "description"
)

// Fields maps a remote field name to its ordered values. Only the first
// value of a field is authoritative.
type Fields map[string][]string

// First returns the trimmed first value of the named field. A blank first
// value reports the field as absent; later values are never consulted.
func (f Fields) First(name string) (string, bool) {
	vals, ok := f[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	v := strings.TrimSpace(vals[0])
	if v == "" {
		return "", false
	}
	return v, true
}

// Set replaces the values of a field. Blank values are dropped so that an
// empty source column never shows up as a present remote field.
func (f Fields) Set(name string, values ...string) {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(f, name)
		return
	}
	f[name] = kept
}

// UnmarshalJSON accepts every shape the CRM uses for a field value: a bare
// string, an array of strings, an array of {"value": ...} objects, or a
// single {"value": ...} object.
func (f *Fields) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: decode fields")
	}
	out := make(Fields, len(raw))
	for name, msg := range raw {
		vals, err := decodeFieldValues(msg)
		if err != nil {
			return eris.Wrapf(err, "model: decode field %q", name)
		}
		if len(vals) > 0 {
			out[name] = vals
		}
	}
	*f = out
	return nil
}

type fieldValue struct {
	Value    json.RawMessage `json:"value"`
	Modifier string          `json:"modifier,omitempty"`
}

func decodeFieldValues(msg json.RawMessage) ([]string, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil, nil
	}

	switch msg[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(msg, &items); err != nil {
			return nil, err
		}
		vals := make([]string, 0, len(items))
		for _, item := range items {
			v, ok, err := decodeScalar(item)
			if err != nil {
				return nil, err
			}
			if ok {
				vals = append(vals, v)
			}
		}
		return vals, nil
	default:
		v, ok, err := decodeScalar(msg)
		if err != nil || !ok {
			return nil, err
		}
		return []string{v}, nil
	}
}

func decodeScalar(msg json.RawMessage) (string, bool, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return "", false, nil
	}
	switch msg[0] {
	case '"':
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case '{':
		var fv fieldValue
		if err := json.Unmarshal(msg, &fv); err != nil {
			return "", false, err
		}
		return decodeScalar(fv.Value)
	default:
		// Numbers and booleans keep their literal form.
		return string(msg), true, nil
	}
}

// RemoteContact is a record returned by the remote directory. It is never
// persisted; only its values are merged into a Contact.
type RemoteContact struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
}

// PageMeta is the paging block of a list response.
type PageMeta struct {
	Total int `json:"total"`
	Pages int `json:"pages"`
	Page  int `json:"page"`
}

// ContactPage is one page of a remote list response.
type ContactPage struct {
	Resources []RemoteContact `json:"resources"`
	Meta      PageMeta        `json:"meta"`
}
