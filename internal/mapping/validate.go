package mapping

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

type ruleKind int

const (
	ruleString ruleKind = iota
	ruleEmail
	rulePhone
	ruleURL
	ruleInteger
	ruleDecimal
	ruleDate
	ruleDateTime
	ruleBoolean
)

// fieldRule is the constraint a target system puts on one field.
type fieldRule struct {
	kind      ruleKind
	maxLength int
	min       *decimal.Decimal
	max       *decimal.Decimal
	places    int32
}

// ValidationResult is the outcome of ValidateForTarget. Sanitized holds only the
// fields that passed, in their normalised form.
type ValidationResult struct {
	Valid     bool                   `json:"valid"`
	Errors    map[string]string      `json:"errors,omitempty"`
	Sanitized map[string]interface{} `json:"sanitized"`
}

var (
	zero       = decimal.Zero
	phoneRegex = regexp.MustCompile(`^\+?[0-9][0-9 ().\-]{4,29}$`)
	validate   = validator.New()
)

func str(n int) fieldRule { return fieldRule{kind: ruleString, maxLength: n} }

func money() fieldRule { return fieldRule{kind: ruleDecimal, min: &zero, places: 2} }

func quantity() fieldRule { return fieldRule{kind: ruleInteger, min: &zero} }

func ruleOf(k ruleKind) fieldRule { return fieldRule{kind: k} }

// fieldRules is keyed by the remote API name. The same name carries the same rule in
// every module.
var fieldRules = map[string]fieldRule{
	"Email":           {kind: ruleEmail, maxLength: 100},
	"Secondary_Email": {kind: ruleEmail, maxLength: 100},
	"Contact_Email":   {kind: ruleEmail, maxLength: 100},
	"email":           {kind: ruleEmail, maxLength: 100},
	"Phone":           {kind: rulePhone, maxLength: 30},
	"Mobile":          {kind: rulePhone, maxLength: 30},
	"Fax":             {kind: rulePhone, maxLength: 30},
	"phone":           {kind: rulePhone, maxLength: 30},
	"mobile":          {kind: rulePhone, maxLength: 30},
	"Website":         {kind: ruleURL, maxLength: 255},
	"website":         {kind: ruleURL, maxLength: 255},

	"First_Name":         str(40),
	"Last_Name":          str(80),
	"Account_Name":       str(200),
	"Company":            str(200),
	"Subject":            str(200),
	"Product_Name":       str(200),
	"Product_Code":       str(100),
	"Price_Book_Name":    str(120),
	"Description":        str(32000),
	"Mailing_Street":     str(250),
	"Mailing_City":       str(100),
	"Mailing_State":      str(100),
	"Mailing_Zip":        str(30),
	"Mailing_Country":    str(100),
	"Billing_Street":     str(250),
	"Billing_City":       str(100),
	"Billing_State":      str(100),
	"Billing_Code":       str(30),
	"Billing_Country":    str(100),
	"Shipping_Street":    str(250),
	"Shipping_City":      str(100),
	"Shipping_State":     str(100),
	"Shipping_Code":      str(30),
	"Shipping_Country":   str(100),
	"Lead_Source":        str(100),
	"Status":             str(100),
	"name":               str(100),
	"sku":                str(100),
	"description":        str(2000),
	"reference_number":   str(50),
	"notes":              str(5000),
	"customer_id":        str(50),
	"first_name":         str(100),
	"last_name":          str(100),

	"Grand_Total":   money(),
	"Sub_Total":     money(),
	"Discount":      money(),
	"Tax":           money(),
	"Adjustment":    {kind: ruleDecimal, places: 2},
	"Unit_Price":    money(),
	"rate":          money(),
	"purchase_rate": money(),

	"Qty_in_Stock":  quantity(),
	"Quantity":      quantity(),
	"initial_stock": quantity(),

	"Date_of_Birth": ruleOf(ruleDate),
	"Due_Date":      ruleOf(ruleDate),
	"Closing_Date":  ruleOf(ruleDate),
	"date":          ruleOf(ruleDate),
	"due_date":      ruleOf(ruleDate),
	"Valid_Till":    ruleOf(ruleDate),

	"Order_Date_Time": ruleOf(ruleDateTime),

	"Email_Opt_Out":  ruleOf(ruleBoolean),
	"Product_Active": ruleOf(ruleBoolean),
	"Taxable":        ruleOf(ruleBoolean),
	"Active":         ruleOf(ruleBoolean),
}

// requiredFields lists, per entity kind, the fields the remote refuses to create without.
var requiredFields = map[string][]string{
	"contacts":          {"Last_Name"},
	"accounts":          {"Account_Name"},
	"leads":             {"Last_Name", "Company"},
	"sales_orders":      {"Subject"},
	"products":          {"Product_Name"},
	"items":             {"name"},
	"invoices":          {"customer_id"},
	"campaign_contacts": {"Contact_Email"},
}

// ValidateForTarget enforces the remote constraints of an entity kind on mapped fields.
// Fields without a rule pass through unchanged. Running it on its own Sanitized output
// yields the same output.
func ValidateForTarget(entityKind string, fields map[string]interface{}) ValidationResult {
	res := ValidationResult{
		Errors:    map[string]string{},
		Sanitized: make(map[string]interface{}, len(fields)),
	}

	for name, value := range fields {
		rule, ok := fieldRules[name]
		if !ok || value == nil {
			res.Sanitized[name] = value
			continue
		}
		clean, err := rule.apply(value)
		if err != nil {
			res.Errors[name] = err.Error()
			continue
		}
		res.Sanitized[name] = clean
	}

	for _, name := range requiredFields[strings.ToLower(entityKind)] {
		if _, failed := res.Errors[name]; failed {
			continue
		}
		if isBlank(res.Sanitized[name]) {
			res.Errors[name] = "is required"
			delete(res.Sanitized, name)
		}
	}

	res.Valid = len(res.Errors) == 0
	if res.Valid {
		res.Errors = nil
	}
	return res
}

func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func (r fieldRule) apply(value interface{}) (interface{}, error) {
	switch r.kind {
	case ruleString:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("must be text")
		}
		return truncate(strings.TrimSpace(s), r.maxLength), nil

	case ruleEmail:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("must be text")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return s, nil
		}
		if err := validate.Var(s, "email"); err != nil || (r.maxLength > 0 && utf8.RuneCountInString(s) > r.maxLength) {
			return nil, fmt.Errorf("invalid email address")
		}
		return s, nil

	case rulePhone:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("must be text")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return s, nil
		}
		if !phoneRegex.MatchString(s) {
			return nil, fmt.Errorf("invalid phone number")
		}
		return s, nil

	case ruleURL:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, fmt.Errorf("must be text")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return s, nil
		}
		if err := validate.Var(s, "url"); err != nil {
			return nil, fmt.Errorf("invalid url")
		}
		return truncate(s, r.maxLength), nil

	case ruleInteger:
		v, err := transformInteger(value)
		if err != nil {
			return nil, fmt.Errorf("must be a whole number")
		}
		n := v.(int64)
		if err := r.checkBounds(decimal.NewFromInt(n)); err != nil {
			return nil, err
		}
		return n, nil

	case ruleDecimal:
		d, err := toDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		d = d.Round(r.places)
		if err := r.checkBounds(d); err != nil {
			return nil, err
		}
		return d.InexactFloat64(), nil

	case ruleDate:
		t, err := parseTime(value)
		if err != nil {
			return nil, fmt.Errorf("invalid date")
		}
		return t.Format(dateLayout), nil

	case ruleDateTime:
		t, err := parseTime(value)
		if err != nil {
			return nil, fmt.Errorf("invalid date and time")
		}
		return t.Truncate(time.Second).Format(dateTimeLayout), nil

	case ruleBoolean:
		b, err := parseBool(value)
		if err != nil {
			return nil, fmt.Errorf("must be true or false")
		}
		return b, nil
	}
	return value, nil
}

func (r fieldRule) checkBounds(d decimal.Decimal) error {
	if r.min != nil && d.LessThan(*r.min) {
		return fmt.Errorf("must be at least %s", r.min.String())
	}
	if r.max != nil && d.GreaterThan(*r.max) {
		return fmt.Errorf("must be at most %s", r.max.String())
	}
	return nil
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
