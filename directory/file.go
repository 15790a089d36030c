package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/fabrichost"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
)

const (
	appsSuffix      = ".apps.json"
	endpointsSuffix = ".endpoints.json"
	lockFileName    = ".directory.lock"
	filePermissions = 0o644
	dirPermissions  = 0o755
	lockRetryDelay  = 10 * time.Millisecond
)

var nameEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C", ".", "%2E")

// FileDirectory stores entries as JSON files under one root directory:
// {service}.apps.json holds the application names of a service and
// {service}.{app}.endpoints.json holds the addresses of a
// service/application pair. Every registration reads the record, appends
// and rewrites it whole under a cross-process file lock, so several host
// processes can share one root.
type FileDirectory struct {
	root   string
	logger fabrichost.Logger

	mu   sync.Mutex
	lock *flock.Flock
}

var (
	_ Directory = (*FileDirectory)(nil)
	_ Watcher   = (*FileDirectory)(nil)
)

// NewFileDirectory creates root if needed. A nil logger discards output.
func NewFileDirectory(root string, logger fabrichost.Logger) (*FileDirectory, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, fmt.Errorf("directory: create root %s: %w", root, err)
	}
	if logger == nil {
		logger = fabrichost.NopLogger()
	}
	return &FileDirectory{
		root:   root,
		logger: logger,
		lock:   flock.New(filepath.Join(root, lockFileName)),
	}, nil
}

// Root returns the directory the records live in.
func (d *FileDirectory) Root() string { return d.root }

func (d *FileDirectory) Register(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return d.withLock(ctx, func() error {
		appsPath := d.appsPath(e.ServiceName)
		apps, err := readList(appsPath)
		if err != nil {
			return err
		}
		if apps, added := appendUnique(apps, e.ApplicationName); added {
			if err := writeListAtomic(appsPath, apps); err != nil {
				return err
			}
		}

		endpointsPath := d.endpointsPath(e.ServiceName, e.ApplicationName)
		endpoints, err := readList(endpointsPath)
		if err != nil {
			return err
		}
		if err := writeListAtomic(endpointsPath, append(endpoints, e.Address)); err != nil {
			return err
		}
		d.logger.Debug("Registered endpoint", "service", e.ServiceName, "application", e.ApplicationName,
			"address", e.Address, "path", endpointsPath)
		return nil
	})
}

func (d *FileDirectory) Deregister(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return d.withLock(ctx, func() error {
		path := d.endpointsPath(e.ServiceName, e.ApplicationName)
		endpoints, err := readList(path)
		if err != nil {
			return err
		}
		endpoints, removed := removeAll(endpoints, e.Address)
		if !removed {
			return nil
		}
		d.logger.Debug("Deregistered endpoint", "service", e.ServiceName, "application", e.ApplicationName, "address", e.Address)
		return writeListAtomic(path, endpoints)
	})
}

func (d *FileDirectory) Services(context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, "*"+appsSuffix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name, err := unescapeName(strings.TrimSuffix(filepath.Base(m), appsSuffix))
		if err != nil {
			d.logger.Warn("Skipping unreadable directory record", "path", m, "error", err)
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (d *FileDirectory) Applications(_ context.Context, serviceName string) ([]string, error) {
	return readList(d.appsPath(serviceName))
}

func (d *FileDirectory) Endpoints(_ context.Context, serviceName, applicationName string) ([]string, error) {
	return readList(d.endpointsPath(serviceName, applicationName))
}

// Watch reports records written by any process sharing the root.
func (d *FileDirectory) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("directory: create watcher: %w", err)
	}
	if err := watcher.Add(d.root); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("directory: watch %s: %w", d.root, err)
	}

	changes := make(chan Change, 16)
	go func() {
		defer close(changes)
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				change, ok := parseRecordName(filepath.Base(event.Name))
				if !ok {
					continue
				}
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("Directory watch error", "root", d.root, "error", err)
			}
		}
	}()
	return changes, nil
}

func (d *FileDirectory) withLock(ctx context.Context, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	locked, err := d.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("directory: lock %s: %w", d.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("directory: lock %s: %w", d.lock.Path(), ctx.Err())
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("Failed to release directory lock", "path", d.lock.Path(), "error", err)
		}
	}()
	return fn()
}

func (d *FileDirectory) appsPath(service string) string {
	return filepath.Join(d.root, escapeName(service)+appsSuffix)
}

func (d *FileDirectory) endpointsPath(service, app string) string {
	return filepath.Join(d.root, escapeName(service)+"."+escapeName(app)+endpointsSuffix)
}

func parseRecordName(base string) (Change, bool) {
	switch {
	case strings.HasSuffix(base, endpointsSuffix):
		service, app, ok := strings.Cut(strings.TrimSuffix(base, endpointsSuffix), ".")
		if !ok {
			return Change{}, false
		}
		s, err1 := unescapeName(service)
		a, err2 := unescapeName(app)
		if err1 != nil || err2 != nil {
			return Change{}, false
		}
		return Change{Kind: ChangeEndpoints, ServiceName: s, ApplicationName: a}, true
	case strings.HasSuffix(base, appsSuffix):
		s, err := unescapeName(strings.TrimSuffix(base, appsSuffix))
		if err != nil {
			return Change{}, false
		}
		return Change{Kind: ChangeApplications, ServiceName: s}, true
	}
	return Change{}, false
}

func escapeName(name string) string { return nameEscaper.Replace(name) }

func unescapeName(name string) (string, error) { return url.PathUnescape(name) }

func readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("directory: decode %s: %w", path, err)
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// writeListAtomic replaces path through a temp file and rename so readers
// never see a partial record.
func writeListAtomic(path string, list []string) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("directory: encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("directory: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("directory: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("directory: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, filePermissions); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("directory: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("directory: rename temp file: %w", err)
	}
	return nil
}
