package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileDirectory(t *testing.T) *FileDirectory {
	t.Helper()
	d, err := NewFileDirectory(t.TempDir(), nil)
	require.NoError(t, err)
	return d
}

func TestFileDirectory(t *testing.T) {
	directoryContract(t, func(t *testing.T) Directory { return newTestFileDirectory(t) })
}

func TestFileDirectory_EmptyRoot(t *testing.T) {
	_, err := NewFileDirectory("", nil)
	assert.ErrorIs(t, err, ErrEmptyRoot)
}

func TestFileDirectory_RecordLayout(t *testing.T) {
	ctx := context.Background()
	d := newTestFileDirectory(t)
	require.NoError(t, d.Register(ctx, Entry{ServiceName: "Echo", ApplicationName: "App1", Address: "http://10.0.0.5:8080/"}))

	var apps []string
	data, err := os.ReadFile(filepath.Join(d.Root(), "Echo.apps.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &apps))
	assert.Equal(t, []string{"App1"}, apps)

	var endpoints []string
	data, err = os.ReadFile(filepath.Join(d.Root(), "Echo.App1.endpoints.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &endpoints))
	assert.Equal(t, []string{"http://10.0.0.5:8080/"}, endpoints)

	leftovers, err := filepath.Glob(filepath.Join(d.Root(), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileDirectory_EscapesNames(t *testing.T) {
	ctx := context.Background()
	d := newTestFileDirectory(t)
	e := Entry{ServiceName: "my.svc", ApplicationName: "fabric:/App1", Address: "http://x/"}
	require.NoError(t, d.Register(ctx, e))

	services, err := d.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"my.svc"}, services)

	apps, err := d.Applications(ctx, "my.svc")
	require.NoError(t, err)
	assert.Equal(t, []string{"fabric:/App1"}, apps)

	endpoints, err := d.Endpoints(ctx, "my.svc", "fabric:/App1")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x/"}, endpoints)
}

func TestFileDirectory_SharedRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	a, err := NewFileDirectory(root, nil)
	require.NoError(t, err)
	b, err := NewFileDirectory(root, nil)
	require.NoError(t, err)

	require.NoError(t, a.Register(ctx, Entry{ServiceName: "Echo", ApplicationName: "App1", Address: "http://a/"}))
	require.NoError(t, b.Register(ctx, Entry{ServiceName: "Echo", ApplicationName: "App1", Address: "http://b/"}))

	endpoints, err := a.Endpoints(ctx, "Echo", "App1")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/", "http://b/"}, endpoints)
}

func TestFileDirectory_CorruptRecord(t *testing.T) {
	d := newTestFileDirectory(t)
	require.NoError(t, os.WriteFile(filepath.Join(d.Root(), "Echo.apps.json"), []byte("{not json"), 0o600))
	_, err := d.Applications(context.Background(), "Echo")
	assert.Error(t, err)
}

func TestFileDirectory_Watch(t *testing.T) {
	d := newTestFileDirectory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := d.Watch(ctx)
	require.NoError(t, err)

	other, err := NewFileDirectory(d.Root(), nil)
	require.NoError(t, err)
	require.NoError(t, other.Register(context.Background(), Entry{ServiceName: "Echo", ApplicationName: "App1", Address: "http://x/"}))

	seen := map[ChangeKind]Change{}
	timeout := time.After(3 * time.Second)
	for len(seen) < 2 {
		select {
		case c := <-changes:
			seen[c.Kind] = c
		case <-timeout:
			t.Fatalf("expected apps and endpoints changes, got %v", seen)
		}
	}
	assert.Equal(t, Change{Kind: ChangeApplications, ServiceName: "Echo"}, seen[ChangeApplications])
	assert.Equal(t, Change{Kind: ChangeEndpoints, ServiceName: "Echo", ApplicationName: "App1"}, seen[ChangeEndpoints])

	cancel()
	for range changes {
	}
}

func TestParseRecordName(t *testing.T) {
	c, ok := parseRecordName("Echo.App1.endpoints.json")
	require.True(t, ok)
	assert.Equal(t, Change{Kind: ChangeEndpoints, ServiceName: "Echo", ApplicationName: "App1"}, c)

	_, ok = parseRecordName("Echo.apps.json.123.tmp")
	assert.False(t, ok)
	_, ok = parseRecordName(".directory.lock")
	assert.False(t, ok)
}
