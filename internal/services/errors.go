package services

import (
	"fmt"
)

// ToolError reports an external tool that ran and exited non-zero.
type ToolError struct {
	Command  string
	ExitCode int
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// MissingOutputError reports a tool that exited cleanly without producing
// the artifact it was asked for.
type MissingOutputError struct {
	Path string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("expected output file was not produced: %s", e.Path)
}

// MissingParameterError reports a request missing a field that the selected
// mode requires.
type MissingParameterError struct {
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Param)
}

// UnsupportedInputError reports an input the pipeline refuses to process.
type UnsupportedInputError struct {
	Reason string
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("unsupported input: %s", e.Reason)
}

// TransportError reports a network-level failure talking to a remote
// service, before any application-level reply was understood.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteRejectionError reports a remote service that answered and said no.
type RemoteRejectionError struct {
	Status  int
	Message string
}

func (e *RemoteRejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote service rejected the request (status %d)", e.Status)
	}
	return fmt.Sprintf("remote service rejected the request: %s", e.Message)
}
