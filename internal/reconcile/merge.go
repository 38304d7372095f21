package reconcile

import (
	"github.com/sells-group/contactbook/internal/model"
)

// mergedFields are copied from the remote record when it reports them.
var mergedFields = []struct {
	name string
	dst  func(*model.Contact) *string
}{
	{model.FieldFirstName, func(c *model.Contact) *string { return &c.FirstName }},
	{model.FieldLastName, func(c *model.Contact) *string { return &c.LastName }},
	{model.FieldEmail, func(c *model.Contact) *string { return &c.Email }},
}

// Merge applies the remote values onto c and reports whether anything
// changed. A field the remote does not report (or reports blank) keeps its
// local value. The remote id is always taken from rc.
func Merge(c model.Contact, rc model.RemoteContact) (model.Contact, bool) {
	out := c
	out.RemoteID = rc.ID
	for _, f := range mergedFields {
		if v, ok := rc.Fields.First(f.name); ok {
			*f.dst(&out) = v
		}
	}
	return out, out != c
}
