package fabrichost

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var testPartition = uuid.MustParse("7f1b1a52-5d0c-4d32-9b2f-3c5d2f5bb001")

func testActivation(types ...ServiceTypeDescription) *StaticActivationContext {
	if len(types) == 0 {
		types = []ServiceTypeDescription{{ServiceTypeName: "EchoType", Kind: ServiceKindStateless}}
	}
	return &StaticActivationContext{
		AppName:     "fabric:/App1",
		AppTypeName: "App1Type",
		Types:       types,
		EndpointDefs: map[string]EndpointResource{
			"ServiceEndpoint": {Name: "ServiceEndpoint", Protocol: "http", Port: 0},
		},
	}
}

func testInstanceContext() InstanceContext {
	return InstanceContext{
		ServiceTypeName:     "EchoType",
		ServiceName:         "fabric:/App1/Echo",
		PartitionID:         testPartition,
		ReplicaOrInstanceID: 42,
		PublishAddress:      "10.0.0.5",
		Kind:                ServiceKindStateless,
		Node:                NodeContext{NodeName: "_Node_0", NodeType: "NodeType0", IPAddressOrFQDN: "10.0.0.5"},
		Activation:          testActivation(),
	}
}

// fakeServer is a WebServer that records calls and reports a fixed address.
type fakeServer struct {
	mu        sync.Mutex
	addresses []string
	startErr  error
	stopErr   error
	closeErr  error
	running   bool

	starts atomic.Int32
	stops  atomic.Int32
	closes atomic.Int32

	// blockStop makes Stop wait for ctx.
	blockStop bool

	// startEntered is closed when Start begins; Start then waits for
	// startGate before binding.
	startEntered chan struct{}
	startGate    chan struct{}
}

func newFakeServer(address string) *fakeServer {
	return &fakeServer{addresses: []string{address}}
}

func (f *fakeServer) Start(ctx context.Context) error {
	f.starts.Add(1)
	if f.startEntered != nil {
		close(f.startEntered)
	}
	if f.startGate != nil {
		<-f.startGate
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Stop(ctx context.Context) error {
	f.stops.Add(1)
	if f.blockStop {
		<-ctx.Done()
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
	if f.stopErr != nil {
		return f.stopErr
	}
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return nil
}

func (f *fakeServer) Close() error {
	f.closes.Add(1)
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	return f.closeErr
}

func (f *fakeServer) Addresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	out := make([]string, len(f.addresses))
	copy(out, f.addresses)
	return out
}

func (f *fakeServer) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
