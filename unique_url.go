package fabrichost

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// uniqueURLSuffix builds the path that makes an instance address unique:
// /{partitionId}/{replicaOrInstanceId}, plus a random /{uuid} for stateful
// replicas whose ids can repeat across role changes.
func uniqueURLSuffix(ictx InstanceContext) string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(ictx.PartitionID.String())
	b.WriteByte('/')
	b.WriteString(strconv.FormatInt(ictx.ReplicaOrInstanceID, 10))
	if ictx.IsStateful() {
		b.WriteByte('/')
		b.WriteString(uuid.NewString())
	}
	return b.String()
}

// UniqueURLGuard routes only requests addressed to this instance. A request
// whose path does not start with suffix was meant for an instance that
// previously lived at the same host and port, and gets 410 Gone. Matching
// requests reach next with the suffix stripped.
func UniqueURLGuard(suffix string) func(http.Handler) http.Handler {
	suffix = strings.TrimRight(suffix, "/")
	return func(next http.Handler) http.Handler {
		stripped := http.StripPrefix(suffix, next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if suffix == "" {
				next.ServeHTTP(w, r)
				return
			}
			p := r.URL.Path
			if p != suffix && !strings.HasPrefix(p, suffix+"/") {
				http.Error(w, http.StatusText(http.StatusGone), http.StatusGone)
				return
			}
			stripped.ServeHTTP(w, r)
		})
	}
}
