package nimble

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contactbook/internal/model"
)

// DefaultFields are the contact fields requested when none are given.
var DefaultFields = []string{
	model.FieldFirstName,
	model.FieldLastName,
	model.FieldEmail,
	model.FieldDescription,
}

// DefaultRecordType restricts listings to people.
const DefaultRecordType = "person"

// ListOptions filters a contact listing. Zero values fall back to the
// defaults; a nil Query is left out of the request entirely.
type ListOptions struct {
	Query      map[string]any
	Fields     []string
	RecordType string
	Page       int
	PerPage    int
}

// EmailQuery returns the query that matches contacts with exactly email.
func EmailQuery(email string) map[string]any {
	return map[string]any{
		model.FieldEmail: map[string]any{"is": email},
	}
}

func (o ListOptions) values() (url.Values, error) {
	fields := o.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	recordType := o.RecordType
	if recordType == "" {
		recordType = DefaultRecordType
	}
	page := o.Page
	if page <= 0 {
		page = 1
	}

	var query string
	if len(o.Query) > 0 {
		b, err := json.Marshal(o.Query)
		if err != nil {
			return nil, eris.Wrap(err, "nimble: encode query")
		}
		query = string(b)
	}

	var perPage string
	if o.PerPage > 0 {
		perPage = strconv.Itoa(o.PerPage)
	}

	return queryValues(map[string]string{
		"fields":      strings.Join(fields, ","),
		"record_type": recordType,
		"query":       query,
		"page":        strconv.Itoa(page),
		"per_page":    perPage,
	}), nil
}

// queryValues drops parameters with empty values.
func queryValues(params map[string]string) url.Values {
	v := make(url.Values, len(params))
	for k, val := range params {
		if val != "" {
			v.Set(k, val)
		}
	}
	return v
}
