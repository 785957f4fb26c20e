package views

import (
	"context"
	"errors"
	"regexp"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/shaxzod-muhandis/Admin-Panel/rostercache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers"
)

// Field names an editable form field. Values match the JSON names the
// service reports in validation errors.
type Field string

const (
	FieldFirstName Field = "firstName"
	FieldLastName  Field = "lastName"
	FieldPhone     Field = "phone"
	FieldPinfl     Field = "pinfl"
	FieldDegree    Field = "degree"
	FieldPosition  Field = "position"
)

// FormFields lists the editable fields in display order.
var FormFields = []Field{FieldFirstName, FieldLastName, FieldPhone, FieldPinfl, FieldDegree, FieldPosition}

// FieldForm carries server validation errors that name no known field.
const FieldForm Field = "_form"

// Mode tells whether a form creates or edits a record.
type Mode int

const (
	ModeCreate Mode = iota + 1
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "create"
}

var pinflPattern = regexp.MustCompile(`^\d{14}$`)

// FieldRules returns the validation rules of every form field for a phone
// country code such as "998".
func FieldRules(countryCode string) map[Field][]validation.Rule {
	name := []validation.Rule{
		validation.Required.Error("is required"),
		validation.RuneLength(2, 0).Error("must be at least 2 characters"),
	}
	phone := regexp.MustCompile(`^\+` + regexp.QuoteMeta(countryCode) + `\d{9}$`)

	return map[Field][]validation.Rule{
		FieldFirstName: name,
		FieldLastName:  name,
		FieldDegree:    name,
		FieldPosition:  name,
		FieldPhone: {
			validation.Required.Error("is required"),
			validation.Match(phone).Error("must look like +" + countryCode + " followed by 9 digits"),
		},
		FieldPinfl: {
			validation.Required.Error("is required"),
			validation.Match(pinflPattern).Error("must be exactly 14 digits"),
		},
	}
}

// EditForm owns a draft of teacher fields and its per-field errors. The
// draft lives only while the form is open.
type EditForm struct {
	roster   Roster
	notifier Notifier
	logger   *zap.Logger
	rules    map[Field][]validation.Rule
	mode     Mode
	id       teachers.ID

	mu         sync.Mutex
	draft      teachers.Fields
	errs       map[Field]string
	submitting bool
	closed     bool
}

// NewCreateForm opens a form with a blank draft.
func NewCreateForm(roster Roster, opts ...Option) *EditForm {
	return newForm(roster, ModeCreate, teachers.Record{}, opts)
}

// NewEditForm opens a form seeded with rec's fields.
func NewEditForm(roster Roster, rec teachers.Record, opts ...Option) *EditForm {
	return newForm(roster, ModeEdit, rec, opts)
}

func newForm(roster Roster, mode Mode, rec teachers.Record, opts []Option) *EditForm {
	o := buildOptions(opts)
	return &EditForm{
		roster:   roster,
		notifier: o.notifier,
		logger:   o.logger,
		rules:    FieldRules(o.countryCode),
		mode:     mode,
		id:       rec.ID,
		draft:    rec.Fields,
		errs:     make(map[Field]string),
	}
}

func (f *EditForm) Mode() Mode { return f.mode }

// ID is empty in create mode.
func (f *EditForm) ID() teachers.ID { return f.id }

// Open reports whether the form still holds a draft.
func (f *EditForm) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

// Draft returns a copy of the working fields.
func (f *EditForm) Draft() teachers.Fields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

// Set changes one field and validates it. The returned error is the field's
// validation error, if any.
func (f *EditForm) Set(field Field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	ptr := fieldPtr(&f.draft, field)
	if ptr == nil {
		return ErrUnknownField
	}
	*ptr = value
	return f.validateLocked(field)
}

// Errors returns the current field errors.
func (f *EditForm) Errors() map[Field]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[Field]string, len(f.errs))
	for k, v := range f.errs {
		out[k] = v
	}
	return out
}

// Valid validates every field and reports whether none has an error.
func (f *EditForm) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateAllLocked()
}

// CanSubmit reports whether Submit would reach the resource: the form is
// open, idle, and its record has no outstanding mutation.
func (f *EditForm) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && !f.submitting && (f.mode == ModeCreate || !f.roster.InFlight(f.id))
}

// Submit sends the draft through the mutation coordinator. On success the
// form closes and the draft is discarded. On failure the form stays open
// with the draft intact, and a server ValidationError is shown on its field.
func (f *EditForm) Submit(ctx context.Context) (teachers.Record, error) {
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return teachers.Record{}, ErrClosed
	case f.submitting:
		f.mu.Unlock()
		return teachers.Record{}, ErrSubmitInFlight
	case !f.validateAllLocked():
		f.mu.Unlock()
		return teachers.Record{}, ErrFormInvalid
	case f.mode == ModeEdit && f.roster.InFlight(f.id):
		f.mu.Unlock()
		return teachers.Record{}, rostercache.ErrMutationInFlight
	}
	f.submitting = true
	draft := f.draft
	f.mu.Unlock()

	f.notifier.Loading("Saving teacher")

	var (
		rec teachers.Record
		err error
	)
	if f.mode == ModeCreate {
		rec, err = f.roster.Create(ctx, draft)
	} else {
		rec, err = f.roster.Update(ctx, f.id, draft)
	}

	f.mu.Lock()
	f.submitting = false
	if f.closed {
		f.mu.Unlock()
		f.logger.Debug("submit outcome ignored, form closed", zap.Error(err))
		return rec, err
	}
	if err != nil {
		var verr *teachers.ValidationError
		if errors.As(err, &verr) {
			field := Field(verr.Field)
			if fieldPtr(&f.draft, field) == nil {
				field = FieldForm
			}
			f.errs[field] = verr.Message
		}
		f.mu.Unlock()
		f.notifier.Error("Could not save teacher", err)
		return rec, err
	}
	f.closeLocked()
	f.mu.Unlock()

	if f.mode == ModeCreate {
		f.notifier.Success("Teacher created")
	} else {
		f.notifier.Success("Teacher updated")
	}
	return rec, nil
}

// Close discards the draft. An in-flight submit still completes, but its
// outcome no longer touches the form.
func (f *EditForm) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
}

func (f *EditForm) closeLocked() {
	f.closed = true
	f.draft = teachers.Fields{}
	f.errs = make(map[Field]string)
}

func (f *EditForm) validateLocked(field Field) error {
	err := validation.Validate(*fieldPtr(&f.draft, field), f.rules[field]...)
	if err != nil {
		f.errs[field] = err.Error()
		return err
	}
	delete(f.errs, field)
	return nil
}

func (f *EditForm) validateAllLocked() bool {
	delete(f.errs, FieldForm)
	ok := true
	for _, field := range FormFields {
		if f.validateLocked(field) != nil {
			ok = false
		}
	}
	return ok
}

func fieldPtr(d *teachers.Fields, field Field) *string {
	switch field {
	case FieldFirstName:
		return &d.FirstName
	case FieldLastName:
		return &d.LastName
	case FieldPhone:
		return &d.Phone
	case FieldPinfl:
		return &d.Pinfl
	case FieldDegree:
		return &d.Degree
	case FieldPosition:
		return &d.Position
	default:
		return nil
	}
}
