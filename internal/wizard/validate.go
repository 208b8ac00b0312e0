package wizard

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func moveDetailsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// validateForOffer checks everything the offer service needs: both complete
// addresses, both floor details and a YYYY-MM-DD move date.
func validateForOffer(d MoveDetails) error {
	err := moveDetailsValidator().Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if idx := strings.Index(ns, "."); idx >= 0 {
			ns = ns[idx+1:]
		}
		fields = append(fields, ns)
	}
	return &ValidationError{Fields: fields}
}

func addressComplete(a *Address) bool {
	return a != nil && a.Street != "" && a.HouseNumber != "" && a.PostalCode != "" && a.City != ""
}

// IsMoveDetailsValid is the gate for leaving step 1: both addresses complete
// and a move date set.
func IsMoveDetailsValid(d MoveDetails) bool {
	return addressComplete(d.FromAddress) && addressComplete(d.ToAddress) && d.MoveDate != ""
}
