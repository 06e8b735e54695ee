package core

// error_messages.go maps technical errors to coded, human-readable messages.
// Per-file errors are persisted in lineage as "[CODE] message: detail" so an
// operator can read the table without the logs, and quote the code.
//
// # Codes
//
//	MAP001 - No mapping rules exist for the source type
//	MAP002 - File name matches no rule of the source type
//	MAP003 - File name matches rules for more than one table
//	FILE001 - File exceeds the configured size limit
//	FILE002 - File is not valid CSV
//	FILE003 - File has no header row
//	FILE004 - Two headers normalize to the same column name
//	FILE005 - File could not be opened or read
//	FILE006 - None of the mapped columns are present
//	SCH001 - Destination table could not be created or widened
//	SCH002 - A table, column or type name failed the identifier allow-list
//	DB001 - Rows could not be appended
//	DB004 - Database connection refused
//	DB006 - Database operation timed out
//	BAT001 - Batch identifier already registered
//	BAT002 - Source directory missing
//	BAT003 - Batch abandoned mid-run and reconciled
//	BAT004 - Another batch is running
//	BAT005 - Batch not found
//	REQ001 - Request is missing or has invalid fields
//	ERR001 - Internal fault while processing a file
//	ERR000 - Unknown error
//
// Sentinel errors are matched first with errors.Is, then PostgreSQL error
// codes, then case-insensitive substrings. The first match wins.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/JonMunkholm/lakeingest/internal/ident"
	"github.com/jackc/pgx/v5/pgconn"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

var (
	// errSchemaEvolution marks failures of the schema evolution guard.
	errSchemaEvolution = errors.New("schema evolution failed")
	// errAppend marks failures while appending rows.
	errAppend = errors.New("append failed")
	// errAbandoned marks lineage closed by the stale-batch reconciler.
	errAbandoned = errors.New("abandoned")
	// errPanic marks a recovered panic inside per-file processing.
	errPanic = errors.New("internal fault")
)

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// Order matters: ident errors are wrapped inside schema evolution errors
// and must win over them.
var sentinelMessages = []sentinelMessage{
	{ErrNoMappingForSourceType, UserMessage{"No mapping rules exist for this source type", "Add dictionary rules for the source type", "MAP001"}},
	{ErrUnresolvedMapping, UserMessage{"File name does not match any mapping rule", "Check the file name or add a rule for it", "MAP002"}},
	{ErrAmbiguousMapping, UserMessage{"File name matches rules for more than one table", "Make the dictionary rules for this source type unambiguous", "MAP003"}},
	{ErrFileTooLarge, UserMessage{"File exceeds the maximum size", "Split the file or raise INGEST_MAX_FILE_SIZE", "FILE001"}},
	{ErrEmptyFile, UserMessage{"File has no header row", "Check that the export completed", "FILE003"}},
	{ErrDuplicateHeader, UserMessage{"Two column headers normalize to the same name", "Rename one of the columns", "FILE004"}},
	{ErrNoMappedColumns, UserMessage{"None of the mapped columns are present in the file", "Check the header row against the dictionary", "FILE006"}},
	{ident.ErrUnsafeIdentifier, UserMessage{"A table, column or type name is not allowed", "Use lowercase letters, digits and underscores only", "SCH002"}},
	{errSchemaEvolution, UserMessage{"Destination table could not be created or widened", "Check database permissions and the schema evolution log", "SCH001"}},
	{errAppend, UserMessage{"Rows could not be appended to the destination table", "Check the database error detail", "DB001"}},
	{ErrBatchExists, UserMessage{"This batch identifier is already registered", "Re-run with a new batch identifier", "BAT001"}},
	{ErrSourceDirMissing, UserMessage{"Source directory does not exist", "Check the incoming location for the source", "BAT002"}},
	{errAbandoned, UserMessage{"Batch was abandoned before this file finished", "Re-run the files under a new batch identifier", "BAT003"}},
	{ErrBatchInProgress, UserMessage{"Another batch is running", "Wait for it to finish and try again", "BAT004"}},
	{ErrBatchNotFound, UserMessage{"Batch not found", "Verify the batch identifier", "BAT005"}},
	{ErrInvalidRequest, UserMessage{"Request is incomplete or invalid", "Check the request fields", "REQ001"}},
	{errPanic, UserMessage{"Internal fault while processing the file", "Report the batch identifier to support", "ERR001"}},
	{fs.ErrNotExist, UserMessage{"File could not be opened", "Check the file still exists and is readable", "FILE005"}},
	{fs.ErrPermission, UserMessage{"File could not be opened", "Check the file still exists and is readable", "FILE005"}},
}

// errorPattern maps a lowercase substring to a message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"deadline exceeded", UserMessage{"Operation timed out", "Try again later", "DB006"}},
	{"timeout", UserMessage{"Operation timed out", "Try again later", "DB006"}},
}

var invalidCSVMessage = UserMessage{"File is not valid CSV", "Ensure the file is comma-separated with quoted fields closed", "FILE002"}

var readFailureMessage = UserMessage{"File could not be read", "Check the file still exists and is readable", "FILE005"}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the application logs",
	Code:    "ERR000",
}

// MapError converts a technical error to a coded user message.
// Returns an empty UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return invalidCSVMessage
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return readFailureMessage
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "08") {
		return errorPatterns[0].msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatLineageError renders err the way it is stored in error_message:
// "[CODE] Message: technical detail".
func FormatLineageError(err error) string {
	if err == nil {
		return ""
	}
	ue := NewUserError(err)
	return fmt.Sprintf("[%s] %s: %v", ue.User.Code, ue.User.Message, ue.Technical)
}

// UserError pairs a technical error with the message shown for it.
// MapError returns User for any error chain containing a UserError, so a
// layer that knows better than the generic mapping can say so once.
type UserError struct {
	Technical error
	User      UserMessage
}

// Error returns the technical text; User is what callers display.
func (e *UserError) Error() string {
	return e.Technical.Error()
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err, keeping an existing UserError's message.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
