package main

// ExitCodeError wraps an error with a specific process exit code. Reported
// errors were already shown to the user and are not printed again.
type ExitCodeError struct {
	Code     int
	Err      error
	Reported bool
}

func (e *ExitCodeError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// reported marks err as already presented.
func reported(err error) error {
	if err == nil {
		return nil
	}
	return &ExitCodeError{Code: 1, Err: err, Reported: true}
}
