package search

import (
	"fmt"

	"github.com/VividCortex/mysqlerr"
	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
)

// ParseError is returned by Parse when a query string cannot be tokenized or
// does not reduce to a single Toplevel expression. It always wraps a more
// specific message describing where parsing failed.
type ParseError struct {
	msg string
}

func (e *ParseError) Error() string { return e.msg }

func newParseError(format string, args ...interface{}) error {
	return &ParseError{msg: errors.Errorf(format, args...).Error()}
}

// StoreError indicates the producer could not build a plan for a parsed
// query (such as a malformed near: value or a range outside a fielded
// unit), or built SQL that the server rejected as malformed. The second
// case is a bug in the producer rather than a problem with the
// caller-supplied query string.
type StoreError struct {
	msg   string
	cause error
}

func (e *StoreError) Error() string { return e.msg }
func (e *StoreError) Cause() error  { return e.cause }

func newStoreError(cause error, format string, args ...interface{}) error {
	// juju/errors.Annotatef returns nil (not a wrapped error) when cause is
	// nil, so that path is handled separately rather than dereferencing it.
	if cause == nil {
		return &StoreError{msg: fmt.Sprintf(format, args...)}
	}
	return &StoreError{msg: errors.Annotatef(cause, format, args...).Error(), cause: cause}
}

// ExecutionError wraps a failure running a plan other than malformed SQL:
// the query failing for another reason, or an error while reading,
// scanning or closing the result rows.
type ExecutionError struct {
	msg   string
	cause error
}

func (e *ExecutionError) Error() string { return e.msg }
func (e *ExecutionError) Cause() error  { return e.cause }

func newExecutionError(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return &ExecutionError{msg: fmt.Sprintf(format, args...)}
	}
	return &ExecutionError{msg: errors.Annotatef(cause, format, args...).Error(), cause: cause}
}

// TransientConnectionError signals that a pooled connection was found to be
// dead at checkout time. Instance.Checkout evicts the cached pool and
// retries once against a freshly opened one when it sees this error; if
// that retry fails the same way, Checkout returns the error to its caller.
type TransientConnectionError struct {
	cause error
}

func (e *TransientConnectionError) Error() string {
	return "connection is no longer usable: " + e.cause.Error()
}
func (e *TransientConnectionError) Cause() error { return e.cause }

// FilterIndexRefused is returned by IndexQuery when the supplied filter
// cannot be safely expressed as a search query, or when the underlying
// search failed for any reason. When it wraps an underlying error, its
// message is "error in the store: " followed by that error's message.
type FilterIndexRefused struct {
	msg   string
	cause error
}

func (e *FilterIndexRefused) Error() string { return e.msg }
func (e *FilterIndexRefused) Cause() error  { return e.cause }

func newFilterIndexRefused(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return &FilterIndexRefused{msg: fmt.Sprintf(format, args...)}
	}
	return &FilterIndexRefused{msg: errors.Annotatef(cause, format, args...).Error(), cause: cause}
}

// isSyntaxError returns true if err indicates the generated SQL was
// malformed. Reaching this means the producer built an invalid statement;
// Engine.Search reclassifies it as a StoreError rather than surfacing the
// raw driver error.
func isSyntaxError(err error) bool {
	if merr, ok := err.(*mysql.MySQLError); ok {
		return merr.Number == mysqlerr.ER_PARSE_ERROR || merr.Number == mysqlerr.ER_SYNTAX_ERROR ||
			merr.Number == mysqlerr.ER_BAD_FIELD_ERROR || merr.Number == mysqlerr.ER_NON_UNIQ_ERROR
	}
	return false
}

// clientErrorCodes lists the go-sql-driver/mysql client error numbers that
// indicate a pooled connection has gone bad: server has gone away, lost
// connection during query (and its extended form), commands out of sync,
// and can't connect to server -- the codes that show up after a
// server-side idle timeout severs the socket. These are CR_* codes from the MySQL client
// library, not ER_* server codes, so they aren't in VividCortex/mysqlerr
// (which only covers ER_*); they're stable across MySQL versions.
var clientErrorCodes = map[uint16]bool{
	2006: true, // CR_SERVER_GONE_ERROR
	2013: true, // CR_SERVER_LOST
	2014: true, // CR_COMMANDS_OUT_OF_SYNC
	2045: true, // CR_CONN_HOST_ERROR
	2055: true, // CR_SERVER_LOST_EXTENDED
}

// isTransientError returns true if err indicates the connection used to
// send a query was already dead.
func isTransientError(err error) bool {
	merr, ok := err.(*mysql.MySQLError)
	if !ok {
		return false
	}
	return clientErrorCodes[merr.Number]
}

// isAccessError returns true if err indicates an authentication or
// authorization problem, at connection time or query time.
func isAccessError(err error) bool {
	if merr, ok := err.(*mysql.MySQLError); ok {
		authErrors := map[uint16]bool{
			mysqlerr.ER_ACCESS_DENIED_ERROR:          true,
			mysqlerr.ER_BAD_HOST_ERROR:               true,
			mysqlerr.ER_DBACCESS_DENIED_ERROR:        true,
			mysqlerr.ER_BAD_DB_ERROR:                 true,
			mysqlerr.ER_HOST_NOT_PRIVILEGED:          true,
			mysqlerr.ER_HOST_IS_BLOCKED:              true,
			mysqlerr.ER_SPECIFIC_ACCESS_DENIED_ERROR: true,
		}
		return authErrors[merr.Number]
	}
	return false
}
