package fabrichost

import (
	"context"
	"strings"
)

// CommunicationListener is what the orchestrator opens to learn where an
// instance can be reached.
type CommunicationListener interface {
	// Open starts listening and returns the address to publish.
	Open(ctx context.Context) (string, error)
	// Close stops listening gracefully.
	Close(ctx context.Context) error
	// Abort stops listening immediately.
	Abort()
}

// ListenerStatus is the state of a listener. Transitions are monotonic
// within an open cycle; Aborted is reachable from every non-terminal state.
type ListenerStatus int32

const (
	ListenerCreated ListenerStatus = iota
	ListenerOpening
	ListenerOpen
	ListenerClosing
	ListenerClosed
	ListenerAborted
)

func (s ListenerStatus) String() string {
	switch s {
	case ListenerCreated:
		return "created"
	case ListenerOpening:
		return "opening"
	case ListenerOpen:
		return "open"
	case ListenerClosing:
		return "closing"
	case ListenerClosed:
		return "closed"
	case ListenerAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

var wildcardHosts = []string{"://+:", "://[::]:", "://0.0.0.0:", "://*:"}

// RewriteWildcardAddress replaces a wildcard host in url with
// publishAddress. URLs without a wildcard host are returned unchanged.
//
//	RewriteWildcardAddress("http://+:8080", "10.0.0.5") // "http://10.0.0.5:8080"
func RewriteWildcardAddress(url, publishAddress string) string {
	for _, w := range wildcardHosts {
		if strings.Contains(url, w) {
			return strings.Replace(url, w, "://"+publishAddress+":", 1)
		}
	}
	return url
}
