package main

import (
	"errors"

	gerrors "github.com/odvcencio/greenlight/pkg/errors"
)

const (
	exitFailure        = 1
	exitUsage          = 2
	exitInfrastructure = 3
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError maps an error to a process exit code: explicit codes win,
// config problems are usage errors, infrastructure failures get their own code.
func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch gerrors.GetCode(err) {
	case gerrors.ErrCodeConfigLoad, gerrors.ErrCodeConfigParse, gerrors.ErrCodeConfigInvalid:
		return exitUsage
	case gerrors.ErrCodeInfrastructure:
		return exitInfrastructure
	}
	return exitFailure
}
