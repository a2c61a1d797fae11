package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeConnection represents TCP connect failures to the remote host
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuth represents SSH handshake or credential rejection
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeTransfer represents remote or local I/O failures during a tree transfer
	ErrorTypeTransfer ErrorType = "transfer"
	// ErrorTypePath represents invalid or missing local paths and file names
	ErrorTypePath ErrorType = "path"
	// ErrorTypeBackupMissing represents a rollback requested without a snapshot
	ErrorTypeBackupMissing ErrorType = "backup_missing"
	// ErrorTypeConfig represents invalid configuration
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInterruption represents user interruption
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// AppError represents an application-specific error with context
type AppError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Recoverable bool
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	msg := e.Message
	if e.UserMessage != "" {
		msg = e.UserMessage
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// IsRecoverable returns whether the error is recoverable
func (e *AppError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets the message shown to the operator
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: false,
	}
}

// NewRecoverableError creates a new recoverable error
func NewRecoverableError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		Context:     make(map[string]interface{}),
		Recoverable: true,
	}
}

// Common error constructors

func NewConnectionError(message string, cause error) *AppError {
	return NewRecoverableError(ErrorTypeConnection, message, cause)
}

func NewAuthError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeAuth, message, cause)
}

func NewTransferError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeTransfer, message, cause)
}

func NewPathError(message string, cause error) *AppError {
	return NewAppError(ErrorTypePath, message, cause)
}

func NewBackupMissingError(project, environment string) *AppError {
	return NewAppError(ErrorTypeBackupMissing,
		fmt.Sprintf("no backup available for project %q environment %q", project, environment), nil).
		WithContext("project", project).
		WithContext("environment", environment)
}

func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfig, message, cause)
}

// ErrorClassifier provides methods to classify and handle different types of errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an AppError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *AppError {
	if err == nil {
		return nil
	}

	// Check if it's already an AppError
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}

	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}

	return NewAppError(ErrorTypeUnknown, "An unexpected error occurred", err)
}

// classifyNetworkError classifies network-related errors
func (ec *ErrorClassifier) classifyNetworkError(err error) *AppError {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewConnectionError("Failed to establish network connection", err)
		case "read", "write":
			return NewTransferError("Network I/O error", err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewAppError(ErrorTypeTimeout, "Network operation timed out", err)
	}

	return nil
}

// classifyContextError classifies context-related errors
func (ec *ErrorClassifier) classifyContextError(err error) *AppError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewAppError(ErrorTypeInterruption, "Operation was canceled", err)
	}

	return nil
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// ConnectRetryConfig is the fixed policy for establishing a remote connection:
// three attempts, two seconds apart.
func ConnectRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    2 * time.Second,
		Multiplier:  1.0,
	}
}

// Waiter blocks for d or until ctx is done
type Waiter func(ctx context.Context, d time.Duration) error

// RetryHandler provides retry functionality for operations
type RetryHandler struct {
	config     RetryConfig
	classifier *ErrorClassifier
	wait       Waiter
	onRetry    func(attempt int, delay time.Duration, err error)
}

// NewRetryHandler creates a new retry handler
func NewRetryHandler(config RetryConfig) *RetryHandler {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RetryHandler{
		config:     config,
		classifier: NewErrorClassifier(),
		wait:       sleepContext,
	}
}

// WithWaiter replaces the function used to pause between attempts
func (rh *RetryHandler) WithWaiter(w Waiter) *RetryHandler {
	rh.wait = w
	return rh
}

// OnRetry registers a hook called before every pause
func (rh *RetryHandler) OnRetry(fn func(attempt int, delay time.Duration, err error)) *RetryHandler {
	rh.onRetry = fn
	return rh
}

// Retry executes a function with retry logic for recoverable errors
func (rh *RetryHandler) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= rh.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return NewAppError(ErrorTypeInterruption, "Operation canceled", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		appErr := rh.classifier.ClassifyError(err)

		if !appErr.IsRecoverable() {
			return appErr
		}

		if attempt == rh.config.MaxAttempts {
			break
		}

		delay := rh.calculateDelay(attempt)
		if rh.onRetry != nil {
			rh.onRetry(attempt, delay, err)
		}

		if err := rh.wait(ctx, delay); err != nil {
			return NewAppError(ErrorTypeInterruption, "Operation canceled during retry", err)
		}
	}

	return rh.classifier.ClassifyError(lastErr).
		WithContext("attempts", rh.config.MaxAttempts)
}

// calculateDelay calculates the delay for a given attempt using exponential backoff
func (rh *RetryHandler) calculateDelay(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rh.config.Multiplier
	}

	delay := time.Duration(float64(rh.config.BaseDelay) * multiplier)

	if rh.config.MaxDelay > 0 && delay > rh.config.MaxDelay {
		delay = rh.config.MaxDelay
	}

	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err carries the given error type
func IsType(err error, errorType ErrorType) bool {
	return GetErrorType(err) == errorType
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return err.Error()
}
