// Package tools is the tool-calling surface exposed to the conversational
// engine: a fixed catalog, typed arguments per tool, and the gateway that
// resolves a call and dispatches to the calendar.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"voice-receptionist/internal/apperr"
)

type Name string

const (
	CheckAvailability     Name = "check_availability"
	BookAppointment       Name = "book_appointment"
	CancelAppointment     Name = "cancel_appointment"
	RescheduleAppointment Name = "reschedule_appointment"
)

// Invocation is the tagged union of tool arguments. Exactly one concrete type
// exists per Name.
type Invocation interface {
	Tool() Name
}

type CheckAvailabilityArgs struct {
	StartRange      string `json:"startRange" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndRange        string `json:"endRange" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	DurationMinutes int    `json:"durationMinutes" validate:"required,min=5,max=480"`
	Timezone        string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

type BookAppointmentArgs struct {
	StartISO       string   `json:"startIso" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	EndISO         string   `json:"endIso" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Title          string   `json:"title" validate:"required,max=200"`
	Description    string   `json:"description,omitempty" validate:"max=4000"`
	AttendeeEmails []string `json:"attendeeEmails,omitempty" validate:"omitempty,max=20,dive,email"`
}

type CancelAppointmentArgs struct {
	EventID string `json:"eventId" validate:"required,max=1024"`
}

type RescheduleAppointmentArgs struct {
	EventID     string `json:"eventId" validate:"required,max=1024"`
	NewStartISO string `json:"newStartIso" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	NewEndISO   string `json:"newEndIso" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

func (CheckAvailabilityArgs) Tool() Name     { return CheckAvailability }
func (BookAppointmentArgs) Tool() Name       { return BookAppointment }
func (CancelAppointmentArgs) Tool() Name     { return CancelAppointment }
func (RescheduleAppointmentArgs) Tool() Name { return RescheduleAppointment }

// Window returns the parsed range. Only valid after Decode.
func (a CheckAvailabilityArgs) Window() (time.Time, time.Time) {
	return mustParse(a.StartRange), mustParse(a.EndRange)
}

func (a BookAppointmentArgs) Window() (time.Time, time.Time) {
	return mustParse(a.StartISO), mustParse(a.EndISO)
}

func (a RescheduleAppointmentArgs) Window() (time.Time, time.Time) {
	return mustParse(a.NewStartISO), mustParse(a.NewEndISO)
}

func mustParse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report JSON field names in validation details.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Decode parses and validates raw arguments for the named tool.
func Decode(name string, raw json.RawMessage) (Invocation, error) {
	var inv Invocation
	switch Name(name) {
	case CheckAvailability:
		inv = &CheckAvailabilityArgs{}
	case BookAppointment:
		inv = &BookAppointmentArgs{}
	case CancelAppointment:
		inv = &CancelAppointmentArgs{}
	case RescheduleAppointment:
		inv = &RescheduleAppointmentArgs{}
	default:
		return nil, apperr.Validation(fmt.Sprintf("unknown tool %q", name))
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, inv); err != nil {
		return nil, apperr.Validation("invalid tool arguments: " + err.Error())
	}
	if err := validate.Struct(inv); err != nil {
		return nil, validationError(err)
	}

	// Return values, not pointers, so callers switch on concrete types.
	var start, end time.Time
	switch v := inv.(type) {
	case *CheckAvailabilityArgs:
		inv = *v
		start, end = v.Window()
	case *BookAppointmentArgs:
		inv = *v
		start, end = v.Window()
	case *CancelAppointmentArgs:
		return *v, nil
	case *RescheduleAppointmentArgs:
		inv = *v
		start, end = v.Window()
	}
	if !end.After(start) {
		return nil, apperr.Validation("end must be after start")
	}
	return inv, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("invalid tool arguments")
	}
	fields := map[string]any{}
	for _, fe := range verrs {
		tag := fe.Tag()
		if tag == "datetime" {
			tag = "rfc3339"
		}
		fields[fe.Field()] = tag
	}
	e := apperr.Validation("invalid tool arguments")
	e.Details = map[string]any{"fields": fields}
	return e
}
