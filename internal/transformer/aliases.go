package transformer

import "recordload/internal/record"

// Alias lists the raw field names accepted for one canonical attribute, in
// priority order. Matching is exact and case-sensitive; casings that should
// match are listed separately.
type Alias struct {
	Attribute record.Attribute
	Names     []string
}

// AliasTable is the full alias configuration, one entry per canonical
// attribute.
type AliasTable []Alias

// DefaultAliases returns the built-in alias table. Callers may append to the
// returned slices; each call returns fresh copies.
func DefaultAliases() AliasTable {
	return AliasTable{
		{record.Email, []string{
			"email", "mail", "e-mail address", "e-mail", "email_address", "emailaddress",
			"email-address", "email address", "user_email", "useremail", "user-email",
			"user email", "Email", "EMAIL", "E-Mail", "E-mail", "Mail",
		}},
		{record.Username, []string{
			"username", "user_name", "user", "login", "Username", "UserName", "USERNAME", "Login",
		}},
		{record.FirstName, []string{
			"first_name", "first", "fname", "f_name", "firstname", "FirstName", "First Name",
			"Fname", "FName", "FIRST_NAME",
		}},
		{record.LastName, []string{
			"last_name", "last", "lname", "l_name", "lastname", "LastName", "Last Name",
			"Lname", "LName", "LAST_NAME",
		}},
		{record.PhoneNumber, []string{
			"phone_number", "phone", "telephone", "tel", "Phone", "PhoneNumber", "PHONE",
		}},
		{record.City, []string{"city", "town", "location", "City", "CITY"}},
		{record.State, []string{"state", "province", "region", "State", "STATE"}},
		{record.DOB, []string{
			"dob", "date_of_birth", "dateofbirth", "birth_date", "birthdate", "DOB",
		}},
	}
}

// Merge returns t with extra names appended to the matching attributes.
// Unknown attributes in extra are ignored.
func (t AliasTable) Merge(extra map[string][]string) AliasTable {
	out := make(AliasTable, len(t))
	for i, a := range t {
		names := append([]string(nil), a.Names...)
		names = append(names, extra[string(a.Attribute)]...)
		out[i] = Alias{Attribute: a.Attribute, Names: names}
	}
	return out
}
