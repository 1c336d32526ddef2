package observability

import (
	"errors"
	"fmt"

	genaerrs "github.com/coachpo/genacp/internal/errs"
)

// AggregateErrors joins the non-nil errors collected from a fan-out
// operation (Unregister's per-subscription UNSUBSCRIBE drain is the
// only caller in this module), logs one structured entry naming every
// canonical GENA error code involved, and returns a single wrapped
// error describing the whole batch.
func AggregateErrors(operation string, errList []error, fields ...Field) error {
	filtered := make([]error, 0, len(errList))
	messages := make([]string, 0, len(errList))
	var canonicals []string
	for _, err := range errList {
		if err == nil {
			continue
		}
		filtered = append(filtered, err)
		messages = append(messages, err.Error())
		if e, ok := asGenaError(err); ok {
			canonicals = append(canonicals, string(e.Canonical))
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	logFields := append(append([]Field{}, fields...),
		Field{Key: "operation", Value: operation},
		Field{Key: "error_count", Value: len(filtered)},
		Field{Key: "errors", Value: messages},
	)
	if len(canonicals) > 0 {
		logFields = append(logFields, Field{Key: "canonical_codes", Value: canonicals})
	}
	Log().Error("gena operation errors", logFields...)

	joined := errors.Join(filtered...)
	return fmt.Errorf("%s failed: %w", operation, joined)
}

// ErrorFields flattens a GENA structured error into log fields (its
// component, code, canonical code, and HTTP status where set), for
// callers that want the same shape AggregateErrors logs without
// joining multiple errors together. Errors that aren't *errs.E degrade
// to a single "error" field.
func ErrorFields(err error) []Field {
	if err == nil {
		return nil
	}
	e, ok := asGenaError(err)
	if !ok {
		return []Field{{Key: "error", Value: err.Error()}}
	}
	fields := []Field{
		{Key: "component", Value: e.Component},
		{Key: "code", Value: string(e.Code)},
	}
	if e.Canonical != genaerrs.CanonicalUnknown {
		fields = append(fields, Field{Key: "canonical", Value: string(e.Canonical)})
	}
	if e.HTTP > 0 {
		fields = append(fields, Field{Key: "http", Value: e.HTTP})
	}
	fields = append(fields, Field{Key: "error", Value: err.Error()})
	return fields
}

// asGenaError unwraps err looking for the structured envelope errs.New
// produces everywhere in this module's GENA stack.
func asGenaError(err error) (*genaerrs.E, bool) {
	var e *genaerrs.E
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
