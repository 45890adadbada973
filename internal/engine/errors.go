package engine

import "errors"

var ErrNotReady = errors.New("session not ready")
var ErrUnauthorized = errors.New("principal is not a participant")
var ErrNotYourTurn = errors.New("not your turn")
var ErrIllegalMove = errors.New("illegal move")
var ErrSessionFinished = errors.New("session finished")
var ErrRequestAlreadyPending = errors.New("request already pending")
var ErrRequestExpired = errors.New("request expired")
var ErrStaleRevision = errors.New("stale revision")
var ErrConcurrentConflict = errors.New("command already applied")
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

var ErrSessionPaused = errors.New("session paused")
var ErrNotPaused = errors.New("session not paused")
var ErrNoPendingRequest = errors.New("no pending request")
var ErrSeatTaken = errors.New("seat already bound")
var ErrSessionNotFound = errors.New("session not found")
var ErrUnsupportedCommand = errors.New("unsupported command")

// Code is the machine-readable error code sent to clients.
type Code string

const (
	CodeNotReady               Code = "NotReady"
	CodeUnauthorized           Code = "Unauthorized"
	CodeNotYourTurn            Code = "NotYourTurn"
	CodeIllegalMove            Code = "IllegalMove"
	CodeSessionFinished        Code = "SessionFinished"
	CodeRequestAlreadyPending  Code = "RequestAlreadyPending"
	CodeRequestExpired         Code = "RequestExpired"
	CodeStaleRevision          Code = "StaleRevision"
	CodeConcurrentConflict     Code = "ConcurrentConflict"
	CodePersistenceUnavailable Code = "PersistenceUnavailable"
	CodeSessionPaused          Code = "SessionPaused"
	CodeNotPaused              Code = "NotPaused"
	CodeNoPendingRequest       Code = "NoPendingRequest"
	CodeSeatTaken              Code = "SeatTaken"
	CodeSessionNotFound        Code = "SessionNotFound"
	CodeBadRequest             Code = "BadRequest"
	CodeInternal               Code = "Internal"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrNotReady, CodeNotReady},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrNotYourTurn, CodeNotYourTurn},
	{ErrIllegalMove, CodeIllegalMove},
	{ErrSessionFinished, CodeSessionFinished},
	{ErrRequestAlreadyPending, CodeRequestAlreadyPending},
	{ErrRequestExpired, CodeRequestExpired},
	{ErrStaleRevision, CodeStaleRevision},
	{ErrConcurrentConflict, CodeConcurrentConflict},
	{ErrPersistenceUnavailable, CodePersistenceUnavailable},
	{ErrSessionPaused, CodeSessionPaused},
	{ErrNotPaused, CodeNotPaused},
	{ErrNoPendingRequest, CodeNoPendingRequest},
	{ErrSeatTaken, CodeSeatTaken},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrUnsupportedCommand, CodeBadRequest},
}

// CodeOf maps an error to its wire code. Unknown errors are Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Rejected reports whether err is a validation rejection, which never
// mutates the session.
func Rejected(err error) bool {
	switch CodeOf(err) {
	case "", CodePersistenceUnavailable, CodeInternal:
		return false
	}
	return true
}
