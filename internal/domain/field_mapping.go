package domain

type Transformation string

const (
	TransformationNone           Transformation = "none"
	TransformationUppercase      Transformation = "uppercase"
	TransformationLowercase      Transformation = "lowercase"
	TransformationTrim           Transformation = "trim"
	TransformationFormatDate     Transformation = "format_date"
	TransformationNormalizePhone Transformation = "normalize_phone"
)

func (t Transformation) Valid() bool {
	switch t {
	case "", TransformationNone, TransformationUppercase, TransformationLowercase,
		TransformationTrim, TransformationFormatDate, TransformationNormalizePhone:
		return true
	}
	return false
}

type FieldMapping struct {
	SourceField    string         `json:"sourceField"`
	TargetField    string         `json:"targetField"`
	IsRequired     bool           `json:"isRequired"`
	Transformation Transformation `json:"transformation"`
	IsActive       bool           `json:"isActive"`
}

type TargetField struct {
	Name     string
	Required bool
}

var targetSchemas = map[ImportType][]TargetField{
	ImportTypeCustomerData: {
		{Name: "customer_reference", Required: true},
		{Name: "first_name", Required: true},
		{Name: "last_name", Required: true},
		{Name: "email"},
		{Name: "phone"},
		{Name: "date_of_birth"},
		{Name: "address_line1"},
		{Name: "address_line2"},
		{Name: "city"},
		{Name: "postcode"},
		{Name: "country"},
	},
	ImportTypeTransactionData: {
		{Name: "transaction_reference", Required: true},
		{Name: "customer_reference", Required: true},
		{Name: "amount", Required: true},
		{Name: "currency", Required: true},
		{Name: "transaction_date", Required: true},
		{Name: "scheme_reference"},
		{Name: "description"},
	},
	ImportTypeSchemeData: {
		{Name: "scheme_code", Required: true},
		{Name: "scheme_name", Required: true},
		{Name: "start_date", Required: true},
		{Name: "end_date"},
		{Name: "provider"},
		{Name: "status"},
	},
}

// TargetFields returns the target schema for an import type.
func TargetFields(t ImportType) []TargetField {
	fields := targetSchemas[t]
	out := make([]TargetField, len(fields))
	copy(out, fields)
	return out
}

func LookupTargetField(t ImportType, name string) (TargetField, bool) {
	for _, f := range targetSchemas[t] {
		if f.Name == name {
			return f, true
		}
	}
	return TargetField{}, false
}
