package lifecycle

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
)

// Date is a calendar date in YYYY-MM-DD form.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// ptr returns nil for a missing date.
func (d *Date) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

// Submission is a public request to publish an announcement.
type Submission struct {
	Type        db.AnnouncementType `json:"type" validate:"required,oneof=tribute notice other"`
	Name        string              `json:"name" validate:"required,max=255"`
	DateOfBirth *Date               `json:"date_of_birth"`
	DateOfDeath *Date               `json:"date_of_death"`
	Location    string              `json:"location" validate:"required,max=255"`
	Description string              `json:"description" validate:"required,max=10000"`
	Author      string              `json:"author" validate:"required,max=255"`

	AdvertiserName  string `json:"advertiser_name" validate:"required,max=255"`
	AdvertiserPhone string `json:"advertiser_phone" validate:"required,max=30"`
	AdvertiserEmail string `json:"advertiser_email" validate:"omitempty,email,max=255"`

	// Plan is a plan name or slug; empty means a free submission.
	Plan string `json:"plan" validate:"omitempty,max=255"`

	PhotoPath              string `json:"photo_path" validate:"omitempty,max=2048"`
	DocumentPath           string `json:"document_path" validate:"omitempty,max=2048"`
	AdvertiserDocumentPath string `json:"advertiser_document_path" validate:"omitempty,max=2048"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// normalize trims every free-text field in place.
func (s *Submission) normalize() {
	for _, f := range []*string{
		&s.Name, &s.Location, &s.Description, &s.Author,
		&s.AdvertiserName, &s.AdvertiserPhone, &s.AdvertiserEmail, &s.Plan,
		&s.PhotoPath, &s.DocumentPath, &s.AdvertiserDocumentPath,
	} {
		*f = strings.TrimSpace(*f)
	}
	s.AdvertiserEmail = strings.ToLower(s.AdvertiserEmail)
}

// Validate checks field constraints and the date rule.
func (s *Submission) Validate() error {
	fields := map[string]string{}

	if err := validate.Struct(s); err != nil {
		var verr *ValidationError
		if !errors.As(toValidationError(err), &verr) {
			return err
		}
		fields = verr.Fields
	}

	birth, death := s.DateOfBirth.ptr(), s.DateOfDeath.ptr()
	if birth != nil && death != nil && death.Before(*birth) {
		fields["date_of_death"] = "deve ser igual ou posterior à data de nascimento"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// toValidationError converts validator output into a *ValidationError keyed
// by JSON field name.
func toValidationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = reason(fe)
	}
	return &ValidationError{Fields: fields}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "é obrigatório"
	case "email":
		return "deve ser um endereço de e-mail válido"
	case "max", "lte":
		return "excede o máximo de " + fe.Param()
	case "gt":
		return "deve ser maior que " + fe.Param()
	case "gte":
		return "deve ser maior ou igual a " + fe.Param()
	case "oneof":
		return "deve ser um de: " + fe.Param()
	default:
		return "é inválido"
	}
}
