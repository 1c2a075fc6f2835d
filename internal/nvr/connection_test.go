//go:build cgo

package nvr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectPolicyDelaySequence(t *testing.T) {
	p := ReconnectPolicy{CeilingS: 60}
	want := []time.Duration{5, 10, 20, 40, 60, 60, 60}
	for i, w := range want {
		got := p.delay(i + 1)
		assert.Equal(t, w*time.Second, got, "attempt %d", i+1)
	}
}

func TestReconnectPolicyDelayRespectsCustomCeiling(t *testing.T) {
	p := ReconnectPolicy{CeilingS: 15}
	assert.Equal(t, 5*time.Second, p.delay(1))
	assert.Equal(t, 10*time.Second, p.delay(2))
	assert.Equal(t, 15*time.Second, p.delay(3))
	assert.Equal(t, 15*time.Second, p.delay(10))
}

func TestReconnectPolicyMaxAttemptsDefault(t *testing.T) {
	assert.Equal(t, 10, ReconnectPolicy{}.maxAttempts())
	assert.Equal(t, 3, ReconnectPolicy{MaxAttempts: 3}.maxAttempts())
}

func TestConnectCallsBuildAndPlayThenOnConnected(t *testing.T) {
	var onConnected, onDisconnected int
	var mu sync.Mutex

	cb := ConnectionCallbacks{
		BuildAndPlay: func(ctx context.Context) (*Graph, error) {
			return &Graph{}, nil
		},
		OnConnected:    func() { mu.Lock(); onConnected++; mu.Unlock() },
		OnDisconnected: func() { mu.Lock(); onDisconnected++; mu.Unlock() },
		TeardownGraph:  func(*Graph) {},
	}
	c := NewConnectionStateMachine("cam-1", "rtsp://example.invalid/stream", ReconnectPolicy{}, cb, nil)

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StatusConnected, c.Status())
	mu.Lock()
	assert.Equal(t, 1, onConnected)
	mu.Unlock()

	c.Disconnect()
	assert.Equal(t, StatusDisconnected, c.Status())
	mu.Lock()
	assert.Equal(t, 1, onDisconnected)
	mu.Unlock()
}

func TestConnectIsANoOpWhenAlreadyConnecting(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	cb := ConnectionCallbacks{
		BuildAndPlay: func(ctx context.Context) (*Graph, error) {
			close(started)
			<-release
			return &Graph{}, nil
		},
	}
	c := NewConnectionStateMachine("cam-1", "rtsp://example.invalid/stream", ReconnectPolicy{}, cb, nil)

	go c.Connect(context.Background())
	<-started
	assert.Equal(t, StatusConnecting, c.Status())

	// A second Connect call while CONNECTING must be a no-op, not a second build.
	require.NoError(t, c.Connect(context.Background()))
	close(release)
}

func TestNotifyFaultOnlyTransitionsFromConnected(t *testing.T) {
	var asyncCalls int
	var mu sync.Mutex
	cb := ConnectionCallbacks{
		AsyncStopAndReconnect: func() { mu.Lock(); asyncCalls++; mu.Unlock() },
	}
	c := NewConnectionStateMachine("cam-1", "rtsp://example.invalid/stream", ReconnectPolicy{}, cb, nil)

	// Not connected yet: NotifyFault must no-op.
	c.NotifyFault(FaultRTSPNetwork)
	mu.Lock()
	assert.Equal(t, 0, asyncCalls)
	mu.Unlock()

	c.setStatus(StatusConnected)
	c.NotifyFault(FaultRTSPNetwork)
	mu.Lock()
	assert.Equal(t, 1, asyncCalls)
	mu.Unlock()
	assert.Equal(t, StatusReconnecting, c.Status())

	// Non-network faults must never be forwarded.
	c.setStatus(StatusConnected)
	c.NotifyFault(FaultDecoder)
	mu.Lock()
	assert.Equal(t, 1, asyncCalls)
	mu.Unlock()
}

func TestSetAutoResumeTogglesFlag(t *testing.T) {
	c := NewConnectionStateMachine("cam-1", "", ReconnectPolicy{}, ConnectionCallbacks{}, nil)
	assert.False(t, c.autoResume.Load())
	c.SetAutoResume(true)
	assert.True(t, c.autoResume.Load())
	c.SetAutoResume(false)
	assert.False(t, c.autoResume.Load())
}
