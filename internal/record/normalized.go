package record

import "strings"

// Attribute names one canonical column.
type Attribute string

// Canonical attributes. The string values are the column names.
const (
	Email       Attribute = "email"
	Username    Attribute = "username"
	FirstName   Attribute = "first_name"
	LastName    Attribute = "last_name"
	PhoneNumber Attribute = "phone_number"
	City        Attribute = "city"
	State       Attribute = "state"
	DOB         Attribute = "dob"
)

// Canonical lists the canonical attributes in column order.
var Canonical = []Attribute{Email, Username, FirstName, LastName, PhoneNumber, City, State, DOB}

// Bookkeeping columns written alongside the canonical ones.
const (
	SourceColumn     = "source"
	DataColumn       = "data"
	AttributesColumn = "attributes"
	RecordKeyColumn  = "record_key"
)

// IsCanonical reports whether name is one of the canonical attributes.
func IsCanonical(name string) bool {
	for _, a := range Canonical {
		if string(a) == name {
			return true
		}
	}
	return false
}

// Reserved returns every column name the loader owns. Dynamic attributes must
// never shadow these.
func Reserved() []string {
	out := make([]string, 0, len(Canonical)+4)
	for _, a := range Canonical {
		out = append(out, string(a))
	}
	return append(out, SourceColumn, DataColumn, AttributesColumn, RecordKeyColumn)
}

// Normalized is a record mapped onto the canonical schema. Canonical values
// are empty strings when absent.
type Normalized struct {
	Email       string
	Username    string
	FirstName   string
	LastName    string
	PhoneNumber string
	City        string
	State       string
	DOB         string

	// Source is the path of the file the record came from.
	Source string
	// Data is the complete raw record serialized as an ordered JSON object.
	Data string
	// Dynamic holds fields no canonical alias claimed, under sanitized names,
	// in source order.
	Dynamic []Field
	// Line is copied from the raw record for diagnostics.
	Line int
}

// Get returns the value of a canonical attribute.
func (n *Normalized) Get(a Attribute) string {
	switch a {
	case Email:
		return n.Email
	case Username:
		return n.Username
	case FirstName:
		return n.FirstName
	case LastName:
		return n.LastName
	case PhoneNumber:
		return n.PhoneNumber
	case City:
		return n.City
	case State:
		return n.State
	case DOB:
		return n.DOB
	}
	return ""
}

// Size estimates the bytes n contributes to a write: every value plus the
// dynamic attribute names. Column names of the fixed schema are not counted.
func (n *Normalized) Size() int {
	size := len(n.Source) + len(n.Data)
	for _, a := range Canonical {
		size += len(n.Get(a))
	}
	for _, f := range n.Dynamic {
		size += len(f.Name) + len(f.Value)
	}
	return size
}

// Set assigns a canonical attribute. Unknown attributes are ignored.
func (n *Normalized) Set(a Attribute, v string) {
	switch a {
	case Email:
		n.Email = v
	case Username:
		n.Username = v
	case FirstName:
		n.FirstName = v
	case LastName:
		n.LastName = v
	case PhoneNumber:
		n.PhoneNumber = v
	case City:
		n.City = v
	case State:
		n.State = v
	case DOB:
		n.DOB = v
	}
}

// IdentityPolicy selects which attributes may address a record in the store.
type IdentityPolicy string

const (
	// IdentityEmail keys every record by email; records without one are
	// unwritable.
	IdentityEmail IdentityPolicy = "email"
	// IdentityMulti falls back to username, first+last name, then phone
	// number when email is missing.
	IdentityMulti IdentityPolicy = "multi"
)

// KeyColumn returns the primary key column used under the policy.
func (p IdentityPolicy) KeyColumn() string {
	if p == IdentityMulti {
		return RecordKeyColumn
	}
	return string(Email)
}

// Key returns the identity value for n. ok is false when the record has no
// usable identity under the policy.
//
// Under IdentityMulti the value is prefixed with the kind of key that was
// used ("email:", "username:", "name:", "phone:") so that different kinds
// never collide.
func (p IdentityPolicy) Key(n *Normalized) (string, bool) {
	email := strings.TrimSpace(n.Email)
	if p != IdentityMulti {
		return email, email != ""
	}
	if email != "" {
		return "email:" + email, true
	}
	if u := strings.TrimSpace(n.Username); u != "" {
		return "username:" + u, true
	}
	first, last := strings.TrimSpace(n.FirstName), strings.TrimSpace(n.LastName)
	if first != "" && last != "" {
		return "name:" + first + " " + last, true
	}
	if ph := strings.TrimSpace(n.PhoneNumber); ph != "" {
		return "phone:" + ph, true
	}
	return "", false
}

// Valid reports whether the policy is one of the known values.
func (p IdentityPolicy) Valid() bool {
	return p == IdentityEmail || p == IdentityMulti
}
