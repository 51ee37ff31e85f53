package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type InjectableType string

const (
	InjectableText     InjectableType = "TEXT"
	InjectableNumber   InjectableType = "NUMBER"
	InjectableDate     InjectableType = "DATE"
	InjectableCurrency InjectableType = "CURRENCY"
	InjectableBoolean  InjectableType = "BOOLEAN"
)

func (t InjectableType) IsValid() bool {
	switch t {
	case InjectableText, InjectableNumber, InjectableDate, InjectableCurrency, InjectableBoolean:
		return true
	default:
		return false
	}
}

type InjectableConstraint struct {
	AllowedValues []string `json:"allowed_values,omitempty"`
	MinNumber     *float64 `json:"min_number,omitempty"`
	MaxNumber     *float64 `json:"max_number,omitempty"`
	MaxLength     *int     `json:"max_length,omitempty"`
}

// Injectable is a named, typed fillable field exposed by a template version.
// Key is the identity within the owning version.
type Injectable struct {
	Key          string               `json:"key"`
	Label        string               `json:"label,omitempty"`
	Type         InjectableType       `json:"type"`
	Required     bool                 `json:"required"`
	DefaultValue *string              `json:"default_value,omitempty"`
	Constraints  InjectableConstraint `json:"constraints"`
	CreatedAt    time.Time            `json:"created_at"`
}

var (
	injectableKeyRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
	isoDateRe       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	numberRe        = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	currencyRe      = regexp.MustCompile(`^[A-Z]{3} -?\d+(\.\d{1,2})?$`)
)

// CheckDefinition appends an issue under path for every defect in the
// injectable's declared shape: key format, type, constraint applicability,
// allowed-value canonicality, and a default value that does not satisfy the
// definition. All issues carry code INVALID_DEFINITION.
func CheckDefinition(path string, inj Injectable, out *ValidationError) {
	key := strings.TrimSpace(inj.Key)
	if !injectableKeyRe.MatchString(key) {
		out.Add(path+".key", "INVALID_DEFINITION", fmt.Sprintf("injectable key must match ^[a-z][a-z0-9_]*$ (max 64): %q", key))
	}
	if !inj.Type.IsValid() {
		out.Add(path+".type", "INVALID_DEFINITION", fmt.Sprintf("unrecognized injectable type: %q", inj.Type))
		return
	}

	c := inj.Constraints
	if (c.MinNumber != nil || c.MaxNumber != nil) && inj.Type != InjectableNumber {
		out.Add(path+".constraints", "INVALID_DEFINITION", fmt.Sprintf("min_number/max_number only apply to NUMBER, not %s", inj.Type))
	}
	if c.MinNumber != nil && c.MaxNumber != nil && *c.MinNumber > *c.MaxNumber {
		out.Add(path+".constraints", "INVALID_DEFINITION", "min_number cannot exceed max_number")
	}
	if c.MaxLength != nil {
		if inj.Type != InjectableText {
			out.Add(path+".constraints", "INVALID_DEFINITION", fmt.Sprintf("max_length only applies to TEXT, not %s", inj.Type))
		} else if *c.MaxLength <= 0 {
			out.Add(path+".constraints", "INVALID_DEFINITION", "max_length must be positive")
		}
	}

	if len(c.AllowedValues) > 0 {
		base := inj
		base.Constraints.AllowedValues = nil
		seen := map[string]struct{}{}
		for i, raw := range c.AllowedValues {
			entryPath := fmt.Sprintf("%s.constraints.allowed_values[%d]", path, i)
			canonical, err := ValidateValue(base, raw)
			if err != nil {
				out.Add(entryPath, "INVALID_DEFINITION", fmt.Sprintf("allowed value does not satisfy type %s: %v", inj.Type, err))
				continue
			}
			if canonical != raw {
				out.Add(entryPath, "INVALID_DEFINITION", fmt.Sprintf("allowed value must be canonical: %q", canonical))
				continue
			}
			if _, dup := seen[canonical]; dup {
				out.Add(entryPath, "INVALID_DEFINITION", fmt.Sprintf("duplicate allowed value: %s", canonical))
				continue
			}
			seen[canonical] = struct{}{}
		}
	}

	if inj.DefaultValue != nil {
		if _, err := ValidateValue(inj, *inj.DefaultValue); err != nil {
			out.Add(path+".default_value", "INVALID_DEFINITION", fmt.Sprintf("default value does not satisfy definition: %v", err))
		}
	}
}

// ValidateValue checks raw against the injectable's definition and returns
// the canonical form. Canonical forms are stable across re-validation:
// NUMBER strips trailing zeros, CURRENCY always carries two cent digits,
// BOOLEAN lowercases.
func ValidateValue(inj Injectable, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValueError{Key: inj.Key, Reason: "empty value"}
	}

	var canonical string
	switch inj.Type {
	case InjectableText:
		if inj.Constraints.MaxLength != nil && len(raw) > *inj.Constraints.MaxLength {
			return "", &ValueError{Key: inj.Key, Reason: fmt.Sprintf("exceeds max length %d", *inj.Constraints.MaxLength)}
		}
		canonical = raw

	case InjectableNumber:
		if !numberRe.MatchString(raw) {
			return "", &ValueError{Key: inj.Key, Reason: "number must be decimal like 42 or -3.14"}
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", &ValueError{Key: inj.Key, Reason: "invalid number"}
		}
		if inj.Constraints.MinNumber != nil && n < *inj.Constraints.MinNumber {
			return "", &ValueError{Key: inj.Key, Reason: fmt.Sprintf("must be >= %v", *inj.Constraints.MinNumber)}
		}
		if inj.Constraints.MaxNumber != nil && n > *inj.Constraints.MaxNumber {
			return "", &ValueError{Key: inj.Key, Reason: fmt.Sprintf("must be <= %v", *inj.Constraints.MaxNumber)}
		}
		canonical = strconv.FormatFloat(n, 'f', -1, 64)

	case InjectableDate:
		if !isoDateRe.MatchString(raw) {
			return "", &ValueError{Key: inj.Key, Reason: "date must be YYYY-MM-DD"}
		}
		if _, err := time.Parse("2006-01-02", raw); err != nil {
			return "", &ValueError{Key: inj.Key, Reason: "invalid calendar date"}
		}
		canonical = raw

	case InjectableCurrency:
		c, err := canonicalCurrency(raw)
		if err != nil {
			return "", &ValueError{Key: inj.Key, Reason: err.Error()}
		}
		canonical = c

	case InjectableBoolean:
		switch strings.ToLower(raw) {
		case "true":
			canonical = "true"
		case "false":
			canonical = "false"
		default:
			return "", &ValueError{Key: inj.Key, Reason: "boolean must be true or false"}
		}

	default:
		return "", &ValueError{Key: inj.Key, Reason: fmt.Sprintf("unrecognized type %q", inj.Type)}
	}

	if len(inj.Constraints.AllowedValues) > 0 {
		allowed := false
		for _, av := range inj.Constraints.AllowedValues {
			if canonical == av {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", &ValueError{Key: inj.Key, Reason: "value not in allowed set"}
		}
	}
	return canonical, nil
}

// canonicalCurrency normalizes "EUR 1200.5" to "EUR 1200.50". Amounts are
// held in cents to avoid float drift.
func canonicalCurrency(raw string) (string, error) {
	if !currencyRe.MatchString(raw) {
		return "", fmt.Errorf(`currency must be like "USD 1200.00"`)
	}
	code, amount, _ := strings.Cut(raw, " ")
	negative := strings.HasPrefix(amount, "-")
	amount = strings.TrimPrefix(amount, "-")

	units, frac, hasFrac := strings.Cut(amount, ".")
	if !hasFrac {
		frac = "00"
	} else if len(frac) == 1 {
		frac += "0"
	}
	u, err := strconv.ParseInt(units, 10, 64)
	if err != nil {
		return "", fmt.Errorf("currency amount too large")
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid currency cents")
	}
	cents := u*100 + f
	sign := ""
	if negative && cents != 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s %s%d.%02d", code, sign, cents/100, cents%100), nil
}

// ResolveValues produces the fully resolved value map for assembly: provided
// values canonicalized, defaults applied for absent optional injectables.
// Violations are collected across all injectables and returned together; a
// required injectable with no provided value is reported even when it carries
// a default. Provided keys with no matching definition are ignored.
func ResolveValues(injectables []Injectable, provided map[string]string) (map[string]string, error) {
	verr := &ValidationError{}
	resolved := make(map[string]string, len(injectables))

	for _, inj := range injectables {
		raw, ok := provided[inj.Key]
		if ok {
			canonical, err := ValidateValue(inj, raw)
			if err != nil {
				verr.Add("values."+inj.Key, "TYPE_MISMATCH", valueReason(err))
				continue
			}
			resolved[inj.Key] = canonical
			continue
		}
		if inj.Required {
			verr.Add("values."+inj.Key, "MISSING_REQUIRED_VALUE", fmt.Sprintf("required injectable %s has no provided value", inj.Key))
			continue
		}
		if inj.DefaultValue != nil {
			canonical, err := ValidateValue(inj, *inj.DefaultValue)
			if err != nil {
				verr.Add("injectables."+inj.Key, "INVALID_DEFINITION", fmt.Sprintf("stored default no longer satisfies definition: %v", err))
				continue
			}
			resolved[inj.Key] = canonical
		}
	}

	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func valueReason(err error) string {
	if ve, ok := err.(*ValueError); ok {
		return ve.Reason
	}
	return err.Error()
}
