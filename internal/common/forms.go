package common

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator"
	"github.com/ubtreetrack/treetrack/internal/backend/imaging"
)

// MaxImageSize is the largest plant photo accepted by the add and update forms.
const MaxImageSize = 10 * 1024 * 1024

const (
	MsgScientificNameRequired = "Scientific name is required"
	MsgScientificNameExists   = "Scientific name already exists"
	MsgCommonNamesRequired    = "Common name(s) is required"
	MsgDescriptionRequired    = "Plant description is required"
	MsgImageRequired          = "Image file is required"
	MsgImageType              = "Only JPG, JPEG, PNG, and WEBP files are accepted."
	MsgImageSize              = "File size must be less than 10MB."
	MsgRatingMin              = "Rating must be at least 1."
	MsgRatingMax              = "Rating must be at most 5."
)

// FieldErrors maps a form field name to the message shown next to it.
type FieldErrors map[string]string

// Validation holds either a valid value or the per-field errors that prevented it.
type Validation[T any] struct {
	value  T
	errors FieldErrors
}

func Valid[T any](value T) Validation[T] {
	return Validation[T]{value: value}
}

func Invalid[T any](errors FieldErrors) Validation[T] {
	return Validation[T]{errors: errors}
}

func (v Validation[T]) IsValid() bool {
	return len(v.errors) == 0
}

func (v Validation[T]) Value() T {
	return v.value
}

func (v Validation[T]) Errors() FieldErrors {
	return v.errors
}

// PlantForm is the raw add/update form as bound from the request.
type PlantForm struct {
	ScientificName string `form:"scientific_name" validate:"required"`
	CommonNames    string `form:"common_names" validate:"required"`
	Description    string `form:"description" validate:"required"`
}

// PlantFields is a validated PlantForm.
type PlantFields struct {
	ScientificName string
	CommonNames    []string
	Description    string
}

// ImageFile is an uploaded photo read into memory.
type ImageFile struct {
	Filename string
	Size     int64
	Data     []byte
}

type RatingForm struct {
	Rating int `form:"rating" validate:"min=1,max=5"`
}

var formMessages = map[string]map[string]string{
	"scientific_name": {"required": MsgScientificNameRequired},
	"common_names":    {"required": MsgCommonNamesRequired},
	"description":     {"required": MsgDescriptionRequired},
	"rating":          {"min": MsgRatingMin, "max": MsgRatingMax},
}

var formValidator = newFormValidator()

func newFormValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(formTagName)
	return v
}

func formTagName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("form"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// validateStruct runs the struct tags and translates failures into form messages.
func validateStruct(form any) FieldErrors {
	fieldErrors := FieldErrors{}
	err := formValidator.Struct(form)
	if err == nil {
		return fieldErrors
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		fieldErrors["form"] = err.Error()
		return fieldErrors
	}
	for _, fe := range validationErrors {
		if _, seen := fieldErrors[fe.Field()]; seen {
			continue
		}
		if msg, ok := formMessages[fe.Field()][fe.Tag()]; ok {
			fieldErrors[fe.Field()] = msg
		} else {
			fieldErrors[fe.Field()] = fe.Field() + " is invalid"
		}
	}
	return fieldErrors
}

// SplitCommonNames splits a comma separated list, trimming blanks and dropping empty entries.
func SplitCommonNames(raw string) []string {
	names := []string{}
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// ValidatePlantForm checks the text fields and the photo. The photo may be nil only when
// imageRequired is false, as on the update form.
func ValidatePlantForm(form PlantForm, image *ImageFile, imageRequired bool) Validation[PlantFields] {
	form.ScientificName = strings.TrimSpace(form.ScientificName)
	form.CommonNames = strings.TrimSpace(form.CommonNames)
	form.Description = strings.TrimSpace(form.Description)

	fieldErrors := validateStruct(form)

	commonNames := SplitCommonNames(form.CommonNames)
	if len(commonNames) == 0 {
		fieldErrors["common_names"] = MsgCommonNamesRequired
	}

	if msg := validateImage(image, imageRequired); msg != "" {
		fieldErrors["image"] = msg
	}

	if len(fieldErrors) > 0 {
		return Invalid[PlantFields](fieldErrors)
	}
	return Valid(PlantFields{
		ScientificName: form.ScientificName,
		CommonNames:    commonNames,
		Description:    form.Description,
	})
}

func validateImage(image *ImageFile, required bool) string {
	if image == nil || len(image.Data) == 0 {
		if required {
			return MsgImageRequired
		}
		return ""
	}
	if _, err := imaging.DetectFormat(image.Data); err != nil {
		return MsgImageType
	}
	size := image.Size
	if size == 0 {
		size = int64(len(image.Data))
	}
	if size > MaxImageSize {
		return MsgImageSize
	}
	return ""
}

func ValidateRatingForm(form RatingForm) Validation[int] {
	fieldErrors := validateStruct(form)
	if len(fieldErrors) > 0 {
		return Invalid[int](fieldErrors)
	}
	return Valid(form.Rating)
}
