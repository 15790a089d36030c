package etcd

import (
	"testing"

	"github.com/GoCodeAlone/fabrichost/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_Validation(t *testing.T) {
	_, err := NewBuilder(nil).KeyPrefix(" / ").Build()
	assert.ErrorIs(t, err, ErrInvalidKeyPrefix)

	_, err = NewBuilder(nil).LeaseTTL(-1).Build()
	assert.ErrorIs(t, err, ErrInvalidLeaseTTL)

	d, err := NewBuilder(nil).KeyPrefix("/dev-cluster/").Build()
	require.NoError(t, err)
	assert.Equal(t, "dev-cluster", d.keyPrefix)
	assert.NoError(t, d.Close())
}

func TestDirectory_KeyLayout(t *testing.T) {
	d, err := NewBuilder(nil).Build()
	require.NoError(t, err)

	assert.Equal(t, "/fabrichost/Echo/apps/fabric:%2FApp1", d.appKey("Echo", "fabric:/App1"))
	assert.Equal(t, "/fabrichost/Echo/endpoints/App1/", d.endpointsPrefix("Echo", "App1"))

	c, ok := d.parseKey(d.appKey("Echo", "fabric:/App1"))
	require.True(t, ok)
	assert.Equal(t, directory.Change{Kind: directory.ChangeApplications, ServiceName: "Echo"}, c)

	c, ok = d.parseKey(d.endpointsPrefix("Echo", "fabric:/App1") + "0190a1b2")
	require.True(t, ok)
	assert.Equal(t, directory.Change{Kind: directory.ChangeEndpoints, ServiceName: "Echo", ApplicationName: "fabric:/App1"}, c)

	_, ok = d.parseKey("/other/Echo/apps/App1")
	assert.False(t, ok)
	_, ok = d.parseKey("/fabrichost/Echo/unknown/App1")
	assert.False(t, ok)
}
