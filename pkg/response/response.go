package response

import "errors"

type Response struct {
	ResponseError `json:"error,omitzero"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

//Error Codes
type ErrCode string

var (
	FAILED_REQUEST           ErrCode = "REQUEST_FAILED"
	BAD_REQUEST              ErrCode = "FAILED_TO_DECODE"
	NOT_FOUND                ErrCode = "NOT_FOUND"
	LOCKED                   ErrCode = "LOCKED"
	VALIDATION_ERROR         ErrCode = "VALIDATION_ERROR"
	INVALID_STATE_TRANSITION ErrCode = "INVALID_STATE_TRANSITION"
	SESSION_NOT_OPEN         ErrCode = "SESSION_NOT_OPEN"
	SESSION_NOT_CLOSED       ErrCode = "SESSION_NOT_CLOSED"
	STUDENT_NOT_ENROLLED     ErrCode = "STUDENT_NOT_ENROLLED"
	OUT_OF_RANGE             ErrCode = "OUT_OF_RANGE"
	INVALID_COORDINATE       ErrCode = "INVALID_COORDINATE"
	ALREADY_MARKED           ErrCode = "ALREADY_MARKED"
	SELF_MARK_DISABLED       ErrCode = "SELF_MARK_DISABLED"
)

var (
	ErrBadRequest             = errors.New("bad request")
	ErrNotFound               = errors.New("resource not found")
	ErrLocked                 = errors.New("resource is locked")
	ErrValidation             = errors.New("validation error")
	ErrInvalidStateTransition = errors.New("invalid session state transition")
	ErrSessionNotOpen         = errors.New("session is not open")
	ErrSessionNotClosed       = errors.New("session has not been started")
	ErrStudentNotEnrolled     = errors.New("student is not enrolled in batch")
	ErrOutOfRange             = errors.New("coordinate is outside the branch geofence")
	ErrInvalidCoordinate      = errors.New("invalid coordinate")
	ErrAlreadyMarked          = errors.New("attendance already marked")
	ErrSelfMarkDisabled       = errors.New("self-marking is disabled for session")
)

func Error(code, msg string) Response {
	return Response{
		ResponseError: ResponseError{
			Code:    code,
			Message: msg,
		},
	}
}
