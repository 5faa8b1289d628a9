package observability

import (
	"errors"
	"strconv"

	"github.com/coachpo/quanta/errs"
)

// JoinFailures folds the non-nil errors of a fan-out step (stopping every
// client, closing every position) into one *errs.E scoped to step. The
// envelope carries the code of the first structured failure, or
// CodeUnavailable when none is structured, and unwraps to every failure.
// The failures are logged once on log, or on the global logger when log is nil.
func JoinFailures(log Logger, step string, failures []error, fields ...Field) error {
	kept := make([]error, 0, len(failures))
	texts := make([]string, 0, len(failures))
	code := errs.CodeUnavailable
	structured := false
	for _, err := range failures {
		if err == nil {
			continue
		}
		kept = append(kept, err)
		texts = append(texts, err.Error())
		var e *errs.E
		if !structured && errors.As(err, &e) && e.Code != "" {
			code = e.Code
			structured = true
		}
	}
	if len(kept) == 0 {
		return nil
	}
	if log == nil {
		log = Log()
	}
	log.Error(step+" failed", append(fields,
		F("step", step),
		F("failures", len(kept)),
		F("errors", texts),
	)...)
	return errs.New(step, code,
		errs.WithMessage(step+" failed"),
		errs.WithField("failures", strconv.Itoa(len(kept))),
		errs.WithCause(errors.Join(kept...)))
}
