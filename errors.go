package fabrichost

import (
	"errors"
	"fmt"
)

// Host errors
var (
	// Configuration errors
	ErrLoggerNotSet            = errors.New("logger not set")
	ErrActivationContextNotSet = errors.New("activation context not set")
	ErrRuntimeNotSet           = errors.New("service runtime not set")
	ErrNoServiceType           = errors.New("no service type declared")
	ErrMultipleServiceTypes    = errors.New("only one service type is supported")
	ErrEmptyServiceTypeName    = errors.New("service type name is empty")
	ErrConfigNil               = errors.New("config is nil")
	ErrConfigNotPointer        = errors.New("config must be a pointer")
	ErrConfigNotStruct         = errors.New("config must be a struct")
	ErrConfigRequiredMissing   = errors.New("required field is missing")
	ErrUnsupportedDefaultType  = errors.New("unsupported type for default value")
	ErrDefaultValueParse       = errors.New("failed to parse default value")
	ErrConfigFeederError       = errors.New("config feeder error")

	// Host state errors
	ErrHostAlreadyStarted  = errors.New("host already started")
	ErrHostFaulted         = errors.New("host is faulted")
	ErrApplicationStopped  = errors.New("application stopped before it finished starting")
	ErrInstanceNotStarted  = errors.New("service instance is not started yet")
	ErrInitializerFailed   = errors.New("host initializer failed")
	ErrRegistrationFailed  = errors.New("service registration failed")
	ErrFactoryReturnedNil  = errors.New("service factory returned nil instance")
	ErrInstanceHasNoListen = errors.New("service instance exposes no listener")

	// Scope errors
	ErrServiceAlreadyRegistered = errors.New("service already registered")
	ErrServiceNotFound          = errors.New("service not found")
	ErrRequiredServiceNotFound  = errors.New("required service not found")
	ErrTargetNotPointer         = errors.New("target must be a non-nil pointer")
	ErrServiceIncompatible      = errors.New("service cannot be assigned to target")
	ErrServiceNil               = errors.New("service is nil")

	// Listener errors
	ErrListenerAlreadyOpen = errors.New("listener is already open")
	ErrListenerAborted     = errors.New("listener was aborted")
	ErrNoServerAddress     = errors.New("web server reported no address")
	ErrServerNotStarted    = errors.New("web server not started")
	ErrServerStartTimeout  = errors.New("context cancelled while waiting for web server to start")
	ErrEndpointNotFound    = errors.New("endpoint not found")
)

// ListenerOpenError is returned by CommunicationListener.Open when the
// underlying server could not bind or the open was cancelled before an
// address was reported.
type ListenerOpenError struct {
	Address string
	Cause   error
}

func (e *ListenerOpenError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("listener open failed for %s: %v", e.Address, e.Cause)
	}
	return fmt.Sprintf("listener open failed: %v", e.Cause)
}

func (e *ListenerOpenError) Unwrap() error {
	return e.Cause
}
