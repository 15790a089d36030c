package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/fabrichost/directory"
	"github.com/GoCodeAlone/fabrichost/internal/testutil"
	"github.com/GoCodeAlone/fabrichost/testruntime"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoConfig = `
applicationName: App1
serviceTypeNames: [EchoType]
partitionId: 7f1b1a52-5d0c-4d32-9b2f-3c5d2f5bb001
replicaOrInstanceId: 9
nodeContext:
  nodeName: _Node_3
  ipAddressOrFqdn: 127.0.0.1
`

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, url)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRootCommand_Version(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "echo-service vdev")
}

func TestRun_ServesEchoAndPublishesEndpoint(t *testing.T) {
	testutil.Isolate(t)
	runtimePath := t.TempDir()
	t.Setenv(testruntime.EnvPrefix+"_RUNTIME_PATH", runtimePath)

	configFile := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(echoConfig), 0o600))

	ready := make(chan *testruntime.Runtime, 1)
	opts := &runOptions{
		configFile:  configFile,
		logLevel:    "error",
		logEncoding: "console",
		bindHost:    "+",
		ready:       func(rt *testruntime.Runtime) { ready <- rt },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- opts.run(ctx, io.Discard) }()

	var rt *testruntime.Runtime
	select {
	case rt = <-ready:
	case err := <-done:
		t.Fatalf("run returned before start: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not start")
	}

	addresses := rt.Addresses()
	require.Len(t, addresses, 1)
	base := addresses[0]
	assert.True(t, strings.HasPrefix(base, "http://127.0.0.1:"), base)

	assert.Equal(t, "hi", get(t, base+"echo?msg=hi"))
	assert.Contains(t, get(t, base+"metrics"), "fabrichost_listeners_open")

	var info instanceInfo
	require.NoError(t, json.Unmarshal([]byte(get(t, base+"info")), &info))
	assert.Equal(t, "fabric:/App1/Echo", info.ServiceName)
	assert.Equal(t, "App1", info.ApplicationName)
	assert.Equal(t, int64(9), info.ReplicaOrInstanceID)
	assert.Equal(t, "_Node_3", info.Node)

	dir, err := directory.NewFileDirectory(runtimePath, nil)
	require.NoError(t, err)
	var listing bytes.Buffer
	require.NoError(t, listDirectory(ctx, dir, &listing))
	assert.Equal(t, "Echo.App1="+base+"\n", listing.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	testutil.Isolate(t)
	configFile := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("applicationName: App1\n"), 0o600))

	opts := &runOptions{configFile: configFile, logLevel: "error"}
	err := opts.run(context.Background(), io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load runtime config")
}

func TestDirectoryCommand_Lists(t *testing.T) {
	testutil.Isolate(t)
	root := t.TempDir()
	dir, err := directory.NewFileDirectory(root, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, dir.Register(ctx, directory.Entry{ServiceName: "Echo", ApplicationName: "App1", Address: "http://10.0.0.5:1/"}))
	require.NoError(t, dir.Register(ctx, directory.Entry{ServiceName: "Echo", ApplicationName: "App1", Address: "http://10.0.0.6:1/"}))

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"directory", "--directory-root", root})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "Echo.App1=http://10.0.0.5:1/\nEcho.App1=http://10.0.0.6:1/\n", out.String())
}

func TestDirectoryCommand_NoRoot(t *testing.T) {
	testutil.Isolate(t)
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"directory"})
	assert.ErrorIs(t, cmd.Execute(), directory.ErrEmptyRoot)
}
