package fabrichost

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
)

// middlewareHost is implemented by servers that accept outer middleware,
// such as HTTPServer.
type middlewareHost interface {
	Wrap(mw func(http.Handler) http.Handler)
}

// HTTPListener is the CommunicationListener for an embedded web server. It
// publishes the address the server actually bound, with wildcard hosts
// replaced by the instance publish address.
type HTTPListener struct {
	ictx     InstanceContext
	lifetime *ApplicationLifetime
	server   WebServer
	options  HostOptions
	logger   Logger
	events   *EventBus
	metrics  *Metrics

	mu             sync.Mutex
	status         ListenerStatus
	urlSuffix      string
	publishAddress string
}

var _ CommunicationListener = (*HTTPListener)(nil)

// ListenerOption customizes an HTTPListener.
type ListenerOption func(*HTTPListener)

// WithListenerEvents publishes listener events on bus.
func WithListenerEvents(bus *EventBus) ListenerOption {
	return func(l *HTTPListener) { l.events = bus }
}

// WithListenerMetrics records open and close counts on m.
func WithListenerMetrics(m *Metrics) ListenerOption {
	return func(l *HTTPListener) { l.metrics = m }
}

// NewHTTPListener creates a listener for server. lifetime is the instance
// lifetime the listener signals Started on.
func NewHTTPListener(ictx InstanceContext, lifetime *ApplicationLifetime, server WebServer, options HostOptions, logger Logger, opts ...ListenerOption) *HTTPListener {
	if logger == nil {
		logger = NopLogger()
	}
	l := &HTTPListener{
		ictx:     ictx,
		lifetime: lifetime,
		server:   server,
		options:  options,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ConfigureUniqueServiceURL makes the published address unique to this
// instance. Calling it again has no effect.
func (l *HTTPListener) ConfigureUniqueServiceURL() *HTTPListener {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.urlSuffix != "" {
		return l
	}
	l.urlSuffix = uniqueURLSuffix(l.ictx)
	if mh, ok := l.server.(middlewareHost); ok {
		mh.Wrap(UniqueURLGuard(l.options.PathBase + l.urlSuffix))
	}
	return l
}

// URLSuffix returns the unique suffix, or "" when not configured.
func (l *HTTPListener) URLSuffix() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.urlSuffix
}

// PublishAddress returns the address published by the last Open.
func (l *HTTPListener) PublishAddress() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.publishAddress
}

// Status returns the listener status.
func (l *HTTPListener) Status() ListenerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Open starts the server, signals the lifetime started and returns the
// published address.
func (l *HTTPListener) Open(ctx context.Context) (string, error) {
	l.mu.Lock()
	switch l.status {
	case ListenerOpening, ListenerOpen, ListenerClosing:
		l.mu.Unlock()
		return "", ErrListenerAlreadyOpen
	case ListenerAborted:
		l.mu.Unlock()
		return "", ErrListenerAborted
	}
	l.status = ListenerOpening
	l.publishAddress = ""
	l.mu.Unlock()

	l.logger.Debug("Opening listener", "instance", l.ictx.String(), "endpoint", l.options.EndpointName)

	if err := l.server.Start(ctx); err != nil {
		return "", l.failOpen(&ListenerOpenError{Cause: err})
	}
	if l.abortedWhileOpening() {
		return "", l.discardAborted()
	}

	var (
		address    string
		publishErr error
	)
	unregister := l.lifetime.OnStarted(func() {
		address, publishErr = l.resolveAddress()
	})
	l.lifetime.NotifyStarted()

	if err := l.lifetime.WaitStarted(ctx); err != nil {
		unregister()
		return "", l.failOpen(&ListenerOpenError{Cause: err})
	}
	if publishErr != nil {
		return "", l.failOpen(&ListenerOpenError{Cause: publishErr})
	}

	l.mu.Lock()
	if l.status != ListenerOpening {
		l.mu.Unlock()
		return "", l.discardAborted()
	}
	l.publishAddress = address
	l.status = ListenerOpen
	l.mu.Unlock()

	l.metrics.listenerOpened(true)
	l.events.emit(ctx, EventTypeListenerOpened, map[string]any{
		"address":  address,
		"instance": l.ictx.String(),
	})
	l.logger.Info("Listener opened", "address", address, "instance", l.ictx.String())
	return address, nil
}

// resolveAddress runs inside the Started callback, when the server has
// reported its bound addresses.
func (l *HTTPListener) resolveAddress() (string, error) {
	addrs := l.server.Addresses()
	if len(addrs) == 0 {
		return "", ErrNoServerAddress
	}

	url := RewriteWildcardAddress(addrs[0], l.ictx.PublishAddress)
	url = strings.TrimRight(url, "/") + l.options.PathBase
	url = strings.TrimRight(url, "/")

	l.mu.Lock()
	suffix := l.urlSuffix
	l.mu.Unlock()
	return url + suffix, nil
}

func (l *HTTPListener) abortedWhileOpening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status != ListenerOpening
}

// discardAborted closes a server that finished starting after Abort ran.
func (l *HTTPListener) discardAborted() error {
	if err := l.server.Close(); err != nil {
		l.logger.Warn("Failed to close server after abort", "instance", l.ictx.String(), "error", err)
	}
	l.metrics.listenerOpened(false)
	l.logger.Warn("Listener aborted while opening", "instance", l.ictx.String())
	return &ListenerOpenError{Cause: ErrListenerAborted}
}

func (l *HTTPListener) failOpen(err *ListenerOpenError) error {
	if closeErr := l.server.Close(); closeErr != nil {
		l.logger.Warn("Failed to close server after open failure", "error", closeErr)
	}
	l.mu.Lock()
	l.status = ListenerAborted
	l.mu.Unlock()

	l.metrics.listenerOpened(false)
	l.logger.Error("Listener open failed", "instance", l.ictx.String(), "error", err)
	return err
}

// Close stops the server gracefully. It does nothing when the listener
// never opened or is already closed. If ctx ends before the server
// drains, the listener is aborted instead.
func (l *HTTPListener) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.status != ListenerOpen {
		l.mu.Unlock()
		return nil
	}
	l.status = ListenerClosing
	l.mu.Unlock()

	l.logger.Debug("Closing listener", "instance", l.ictx.String())

	err := l.server.Stop(ctx)
	switch {
	case err == nil, errors.Is(err, ErrServerNotStarted):
	case ctx.Err() != nil:
		l.logger.Warn("Listener close interrupted, aborting", "instance", l.ictx.String(), "error", err)
		l.Abort()
		return nil
	default:
		l.mu.Lock()
		l.status = ListenerClosed
		l.mu.Unlock()
		l.metrics.listenerClosed("error")
		return err
	}

	l.mu.Lock()
	l.status = ListenerClosed
	l.mu.Unlock()

	l.metrics.listenerClosed("graceful")
	l.events.emit(ctx, EventTypeListenerClosed, map[string]any{"instance": l.ictx.String()})
	l.logger.Info("Listener closed", "instance", l.ictx.String())
	return nil
}

// Abort closes the server immediately. Errors are logged.
func (l *HTTPListener) Abort() {
	l.mu.Lock()
	prev := l.status
	l.status = ListenerAborted
	l.mu.Unlock()

	if err := l.server.Close(); err != nil {
		l.logger.Warn("Failed to abort server", "instance", l.ictx.String(), "error", err)
	}
	if prev == ListenerOpen || prev == ListenerClosing {
		l.metrics.listenerClosed("abort")
	}
	l.events.emit(context.Background(), EventTypeListenerAborted, map[string]any{"instance": l.ictx.String()})
	l.logger.Warn("Listener aborted", "instance", l.ictx.String())
}
