// Package etcd stores directory entries in etcd so hosts on different
// machines of a shared dev cluster see each other's endpoints.
//
// Layout under the key prefix:
//
//	/{prefix}/{service}/apps/{app}                 -> app name
//	/{prefix}/{service}/endpoints/{app}/{entryID}  -> address
package etcd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/GoCodeAlone/fabrichost"
	"github.com/GoCodeAlone/fabrichost/directory"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	appsSegment      = "apps"
	endpointsSegment = "endpoints"
)

var (
	ErrInvalidKeyPrefix = errors.New("etcd directory: invalid key prefix")
	ErrInvalidLeaseTTL  = errors.New("etcd directory: lease ttl must not be negative")
)

// Builder configures a Directory.
type Builder struct {
	client    *clientv3.Client
	keyPrefix string
	leaseTTL  int
	logger    fabrichost.Logger
}

// NewBuilder starts a builder with prefix "fabrichost" and no lease.
func NewBuilder(client *clientv3.Client) *Builder {
	return &Builder{client: client, keyPrefix: "fabrichost"}
}

// KeyPrefix sets the root key segment.
func (b *Builder) KeyPrefix(prefix string) *Builder {
	b.keyPrefix = prefix
	return b
}

// LeaseTTL binds endpoint keys to a session lease of ttl seconds, so the
// endpoints of a crashed process expire. Zero keeps them until
// deregistered.
func (b *Builder) LeaseTTL(ttl int) *Builder {
	b.leaseTTL = ttl
	return b
}

func (b *Builder) Logger(l fabrichost.Logger) *Builder {
	b.logger = l
	return b
}

// Build validates the settings and opens the lease session when needed.
func (b *Builder) Build() (*Directory, error) {
	if b.leaseTTL < 0 {
		return nil, ErrInvalidLeaseTTL
	}
	prefix := strings.Trim(strings.TrimSpace(b.keyPrefix), "/")
	if prefix == "" {
		return nil, ErrInvalidKeyPrefix
	}
	logger := b.logger
	if logger == nil {
		logger = fabrichost.NopLogger()
	}

	d := &Directory{client: b.client, keyPrefix: prefix, logger: logger}
	if b.leaseTTL > 0 {
		session, err := concurrency.NewSession(b.client, concurrency.WithTTL(b.leaseTTL))
		if err != nil {
			return nil, fmt.Errorf("etcd directory: open session: %w", err)
		}
		d.session = session
	}
	return d, nil
}

// Directory is an etcd-backed directory.Directory.
type Directory struct {
	client    *clientv3.Client
	keyPrefix string
	logger    fabrichost.Logger
	session   *concurrency.Session

	closeOnce sync.Once
}

var (
	_ directory.Directory = (*Directory)(nil)
	_ directory.Watcher   = (*Directory)(nil)
)

// Register adds the application once and appends the endpoint. Both
// writes happen in one transaction.
func (d *Directory) Register(ctx context.Context, e directory.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}

	appKey := d.appKey(e.ServiceName, e.ApplicationName)
	endpointKey := d.endpointsPrefix(e.ServiceName, e.ApplicationName) + id.String()

	var endpointOpts []clientv3.OpOption
	if d.session != nil {
		endpointOpts = append(endpointOpts, clientv3.WithLease(d.session.Lease()))
	}
	putEndpoint := clientv3.OpPut(endpointKey, e.Address, endpointOpts...)

	_, err = d.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(appKey), "=", 0)).
		Then(clientv3.OpPut(appKey, e.ApplicationName), putEndpoint).
		Else(putEndpoint).
		Commit()
	if err != nil {
		return fmt.Errorf("etcd directory: register %s: %w", e, err)
	}
	d.logger.Debug("Registered endpoint", "entry", e.String(), "key", endpointKey)
	return nil
}

func (d *Directory) Deregister(ctx context.Context, e directory.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	resp, err := d.client.Get(ctx, d.endpointsPrefix(e.ServiceName, e.ApplicationName), clientv3.WithPrefix())
	if err != nil {
		return err
	}
	for _, kv := range resp.Kvs {
		if string(kv.Value) != e.Address {
			continue
		}
		if _, err := d.client.Delete(ctx, string(kv.Key)); err != nil {
			return fmt.Errorf("etcd directory: deregister %s: %w", e, err)
		}
	}
	return nil
}

func (d *Directory) Services(ctx context.Context) ([]string, error) {
	resp, err := d.client.Get(ctx, d.rootKey(), clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, kv := range resp.Kvs {
		c, ok := d.parseKey(string(kv.Key))
		if !ok {
			continue
		}
		seen[c.ServiceName] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (d *Directory) Applications(ctx context.Context, serviceName string) ([]string, error) {
	return d.values(ctx, d.serviceKey(serviceName)+"/"+appsSegment+"/")
}

func (d *Directory) Endpoints(ctx context.Context, serviceName, applicationName string) ([]string, error) {
	return d.values(ctx, d.endpointsPrefix(serviceName, applicationName))
}

func (d *Directory) values(ctx context.Context, prefix string) ([]string, error) {
	resp, err := d.client.Get(ctx, prefix, clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, string(kv.Value))
	}
	return out, nil
}

// Watch reports every put under the key prefix.
func (d *Directory) Watch(ctx context.Context) (<-chan directory.Change, error) {
	watchCh := d.client.Watch(clientv3.WithRequireLeader(ctx), d.rootKey(), clientv3.WithPrefix())

	changes := make(chan directory.Change, 16)
	go func() {
		defer close(changes)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok || resp.Canceled {
					return
				}
				if err := resp.Err(); err != nil {
					d.logger.Warn("etcd directory watch error", "error", err)
					continue
				}
				for _, ev := range resp.Events {
					if ev.Type != clientv3.EventTypePut {
						continue
					}
					c, ok := d.parseKey(string(ev.Kv.Key))
					if !ok {
						continue
					}
					select {
					case changes <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return changes, nil
}

// Close releases the lease session, expiring leased endpoints.
func (d *Directory) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.session != nil {
			err = d.session.Close()
		}
	})
	return err
}

func (d *Directory) rootKey() string {
	return "/" + d.keyPrefix + "/"
}

func (d *Directory) serviceKey(service string) string {
	return d.rootKey() + url.PathEscape(service)
}

func (d *Directory) appKey(service, app string) string {
	return d.serviceKey(service) + "/" + appsSegment + "/" + url.PathEscape(app)
}

func (d *Directory) endpointsPrefix(service, app string) string {
	return d.serviceKey(service) + "/" + endpointsSegment + "/" + url.PathEscape(app) + "/"
}

// parseKey maps a key back to the record it belongs to.
func (d *Directory) parseKey(key string) (directory.Change, bool) {
	rest, ok := strings.CutPrefix(key, d.rootKey())
	if !ok {
		return directory.Change{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 3 {
		return directory.Change{}, false
	}
	service, err := url.PathUnescape(parts[0])
	if err != nil {
		return directory.Change{}, false
	}
	app, err := url.PathUnescape(parts[2])
	if err != nil {
		return directory.Change{}, false
	}
	switch parts[1] {
	case appsSegment:
		return directory.Change{Kind: directory.ChangeApplications, ServiceName: service}, true
	case endpointsSegment:
		return directory.Change{Kind: directory.ChangeEndpoints, ServiceName: service, ApplicationName: app}, true
	}
	return directory.Change{}, false
}
