package cast

import (
	"errors"
	"fmt"
)

// Category is a coarse-grained error classification carried to callers.
type Category string

// Error categories.
const (
	CategoryNetwork          Category = "network"
	CategoryNetworkTimeout   Category = "network-timeout"
	CategoryDiscovery        Category = "discovery"
	CategoryConnection       Category = "connection"
	CategoryDeviceConnection Category = "device-connection"
	CategoryCommunication    Category = "communication"
	CategoryDevice           Category = "device"
	CategoryPlayback         Category = "playback"
	CategoryControl          Category = "control"
	CategoryInvalidParameter Category = "invalid-parameter"
	CategoryResource         Category = "resource"
	CategoryParsing          Category = "parsing"
	CategorySecurity         Category = "security"
	CategoryCompatibility    Category = "compatibility"
	CategoryUnknown          Category = "unknown"
)

// Error carries an error category, a message, and an optional cause.
type Error struct {
	Category Category
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Errf creates a categorized error with a formatted message.
func Errf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// WrapErr creates a categorized error wrapping a cause.
func WrapErr(category Category, msg string, cause error) *Error {
	return &Error{Category: category, Message: msg, Cause: cause}
}

// CategoryOf extracts the category from an error chain.
func CategoryOf(err error) Category {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Category
	}
	return CategoryUnknown
}
