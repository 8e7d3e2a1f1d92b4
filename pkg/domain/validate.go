package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "notblank", validators.NotBlank)
	mustRegister(v, "finite", func(fl validator.FieldLevel) bool {
		switch fl.Field().Kind() {
		case reflect.Float32, reflect.Float64:
			f := fl.Field().Float()
			return !math.IsNaN(f) && !math.IsInf(f, 0)
		default:
			return false
		}
	})
	mustRegister(v, "memorydate", func(fl validator.FieldLevel) bool {
		_, err := ParseDate(fl.Field().String())
		return err == nil
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Errorf("domain: register %s validation: %w", tag, err))
	}
}

// Validate applies the record rule set and reports every violation at once.
func Validate(r Record) error {
	var v violations
	v.addStruct(r)
	return v.err()
}

// DecodeRecord decodes one JSON object into a Record and validates it. Type
// mismatches that cannot survive decoding into Go types (tags given as a
// scalar, coordinates without lat) are reported alongside the struct rules.
func DecodeRecord(raw []byte) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Record{}, &ValidationError{Problems: []string{"memory must be a JSON object"}}
	}
	var (
		v   violations
		rec Record
	)
	if msg, ok := fields["id"]; ok && !isNull(msg) {
		if err := json.Unmarshal(msg, &rec.ID); err != nil {
			v.flag("id", "id must be an integer")
		}
	}
	v.decodeString(fields, "location", &rec.Location)
	v.decodeString(fields, "date", &rec.Date)
	v.decodeString(fields, "text", &rec.Text)
	v.decodeString(fields, "createdAt", &rec.CreatedAt)
	var privacy string
	v.decodeString(fields, "privacy", &privacy)
	rec.Privacy = Privacy(privacy)
	if msg, ok := fields["photo"]; ok && !isNull(msg) {
		var photo string
		if err := json.Unmarshal(msg, &photo); err != nil {
			v.flag("photo", "photo must be a string or null")
		} else {
			rec.Photo = &photo
		}
	}
	if msg, ok := fields["tags"]; ok && !isNull(msg) {
		var tags []string
		if err := json.Unmarshal(msg, &tags); err != nil {
			v.flag("tags", "tags must be an array of strings")
		} else {
			rec.Tags = tags
		}
	}
	if msg, ok := fields["coordinates"]; ok && !isNull(msg) {
		rec.Coordinates = v.decodeCoordinates(msg)
	}
	v.addStruct(rec)
	if err := v.err(); err != nil {
		return rec, err
	}
	return rec, nil
}

// DecodeArray splits an export payload into its elements. Anything other than
// a JSON array yields a FormatError.
func DecodeArray(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, &FormatError{Reason: "empty payload"}
	}
	if !json.Valid(trimmed) {
		var probe any
		return nil, &FormatError{Reason: "unparsable JSON", Err: json.Unmarshal(trimmed, &probe)}
	}
	if trimmed[0] != '[' {
		return nil, &FormatError{Reason: "expected a JSON array of memories"}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, &FormatError{Reason: "unparsable JSON", Err: err}
	}
	return items, nil
}

// DecodeRecords decodes and validates a whole export payload. It stops at the
// first invalid element and names it in the returned ValidationError.
func DecodeRecords(payload []byte) ([]Record, error) {
	items, err := DecodeArray(payload)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(items))
	for i, raw := range items {
		rec, err := DecodeRecord(raw)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Record = describeIndex(i, rec.ID)
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func describeIndex(i int, id int64) string {
	if id != 0 {
		return fmt.Sprintf("at index %d (id %d)", i, id)
	}
	return fmt.Sprintf("at index %d", i)
}

func isNull(msg json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}

type violations struct {
	missing  []string
	fields   []string
	problems []string
	flagged  map[string]bool
}

func (v *violations) flag(field, problem string) {
	if v.flagged == nil {
		v.flagged = make(map[string]bool)
	}
	if !v.flagged[field] {
		v.fields = append(v.fields, field)
	}
	v.flagged[field] = true
	v.problems = append(v.problems, problem)
}

func (v *violations) miss(field string) {
	if v.flagged[field] {
		return
	}
	if v.flagged == nil {
		v.flagged = make(map[string]bool)
	}
	v.flagged[field] = true
	v.fields = append(v.fields, field)
	v.missing = append(v.missing, field)
}

func (v *violations) decodeString(fields map[string]json.RawMessage, key string, dst *string) {
	msg, ok := fields[key]
	if !ok || isNull(msg) {
		return
	}
	if err := json.Unmarshal(msg, dst); err != nil {
		v.flag(key, key+" must be a string")
	}
}

func (v *violations) decodeCoordinates(msg json.RawMessage) *Coordinates {
	var parts map[string]json.RawMessage
	if err := json.Unmarshal(msg, &parts); err != nil || parts == nil {
		v.flag("coordinates", "invalid coordinates: must be an object with lat and lng")
		return &Coordinates{}
	}
	coords := &Coordinates{}
	for _, axis := range []struct {
		name string
		dst  *float64
	}{{"lat", &coords.Lat}, {"lng", &coords.Lng}} {
		raw, ok := parts[axis.name]
		if !ok || isNull(raw) {
			v.flag("coordinates", "invalid coordinates: "+axis.name+" is required")
			continue
		}
		if err := json.Unmarshal(raw, axis.dst); err != nil {
			v.flag("coordinates", "invalid coordinates: "+axis.name+" must be a number")
		}
	}
	return coords
}

// addStruct runs the declarative rules. Fields already flagged while
// decoding raw JSON are skipped so one mistake yields one message.
func (v *violations) addStruct(r Record) {
	err := validate.Struct(r)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.flag("record", err.Error())
		return
	}
	decoded := make(map[string]bool, len(v.flagged))
	for k := range v.flagged {
		decoded[k] = true
	}
	for _, fe := range fieldErrs {
		path := fieldPath(fe)
		top := strings.SplitN(strings.SplitN(path, ".", 2)[0], "[", 2)[0]
		if decoded[top] {
			continue
		}
		switch {
		case (fe.Tag() == "required" || fe.Tag() == "notblank") && path == top:
			v.miss(top)
		default:
			v.flag(top, describe(path, fe))
		}
	}
}

func (v *violations) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	problems := make([]string, 0, len(v.problems)+1)
	if len(v.missing) > 0 {
		problems = append(problems, "missing required fields: "+strings.Join(v.missing, ", "))
	}
	problems = append(problems, v.problems...)
	return &ValidationError{
		Fields:   append([]string(nil), v.fields...),
		Problems: problems,
	}
}

// fieldPath strips the struct name from the validator namespace, leaving the
// JSON path (e.g. "coordinates.lat", "tags[1]").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(path string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "finite":
		return fmt.Sprintf("invalid coordinates: %s must be a finite number", fe.Field())
	case "min", "max":
		if fe.Field() == "lat" {
			return "invalid coordinates: lat must be between -90 and 90"
		}
		return "invalid coordinates: lng must be between -180 and 180"
	case "oneof":
		return "invalid privacy setting: must be public or private"
	case "unique":
		return "tags must not contain duplicates"
	case "notblank", "required":
		if strings.HasPrefix(path, "tags[") {
			return "tags must not contain empty values"
		}
		return path + " is required"
	case "memorydate":
		return "date must be YYYY-MM-DD or RFC 3339"
	default:
		return fmt.Sprintf("%s failed %s", path, fe.Tag())
	}
}

// ValidateCoordinates checks a coordinate pair on its own, as picked on the
// map before any other field is known.
func ValidateCoordinates(c Coordinates) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var v violations
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.flag("coordinates", err.Error())
		return v.err()
	}
	for _, fe := range fieldErrs {
		v.flag("coordinates", describe("coordinates."+fe.Field(), fe))
	}
	return v.err()
}
