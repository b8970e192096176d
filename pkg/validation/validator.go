// Package validation registers the desk's request rules on a go-playground
// validator and turns binding failures into Invalid errors with field detail.
package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strings"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var currencyRegex = regexp.MustCompile(`^[A-Z0-9]{3,10}$`)

// Register installs the decimal type mapping and the desk's custom tags.
// Decimals validate as float64 so numeric tags such as gt=0 apply to them.
func Register(v *validator.Validate) error {
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{}, decimal.NullDecimal{})
	v.RegisterTagNameFunc(jsonName)

	if err := v.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
		return ValidCurrency(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("trading_pair", func(fl validator.FieldLevel) bool {
		base, quote, ok := strings.Cut(fl.Field().String(), "/")
		return ok && ValidCurrency(base) && ValidCurrency(quote)
	})
}

// ValidCurrency reports whether code looks like a currency or asset ticker.
func ValidCurrency(code string) bool {
	return currencyRegex.MatchString(strings.ToUpper(strings.TrimSpace(code)))
}

func decimalValue(field reflect.Value) any {
	switch v := field.Interface().(type) {
	case decimal.Decimal:
		return v.InexactFloat64()
	case decimal.NullDecimal:
		if !v.Valid {
			return nil
		}
		return v.Decimal.InexactFloat64()
	}
	return nil
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		name, _, _ = strings.Cut(f.Tag.Get("form"), ",")
	}
	return name
}

// Errors converts a binding error into an Invalid error. Field failures are
// reported one per field; malformed bodies are reported as a whole.
func Errors(err error) error {
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		out := errors.Invalid.Explain("request validation failed")
		for _, fe := range fields {
			out = out.WithField(fe.Tag(), fe.Field(), message(fe))
		}
		return out
	}
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return errors.Invalid.Explain("request body is empty")
	case errors.As(err, &syntax):
		return errors.Invalid.Explain("malformed request body at offset %d", syntax.Offset)
	case errors.As(err, &typ):
		return errors.Invalid.Explain("malformed request body").
			WithField("type", typ.Field, fmt.Sprintf("expected %s", typ.Type))
	}
	return errors.Invalid.Explain("malformed request: %v", err)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", fe.Field())
	case "currency_code":
		return fmt.Sprintf("%s must be a valid currency code", fe.Field())
	case "trading_pair":
		return fmt.Sprintf("%s must be a BASE/QUOTE pair", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
