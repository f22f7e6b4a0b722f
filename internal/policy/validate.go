package policy

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"isomine/internal/artifact"
	"isomine/internal/fileutil"
	"isomine/internal/services"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator, reporting fields by JSON name.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Check validates doc and renders the first failures as a readable message.
// kind names the document in error text, e.g. "extraction policy".
func Check(kind string, doc any) error {
	err := Validator().Struct(doc)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldPath(fe)
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("missing %s key: %s", kind, field))
		default:
			msgs = append(msgs, fmt.Sprintf("invalid %s key %s: failed %s %s", kind, field, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fieldPath drops the top-level struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func load(kind, path string, doc any) error {
	if strings.TrimSpace(path) == "" {
		return services.Wrap(services.ErrConfiguration, "policy", kind, "path not configured", nil)
	}
	if err := artifact.ReadJSONC(path, doc); err != nil {
		if fileutil.IsNotExist(err) {
			return services.Wrap(services.ErrConfiguration, "policy", kind, "not found: "+path, nil)
		}
		return services.Wrap(services.ErrConfiguration, "policy", kind, path, err)
	}
	if err := Check(kind, doc); err != nil {
		return services.Wrap(services.ErrConfiguration, "policy", kind, path, err)
	}
	return nil
}
