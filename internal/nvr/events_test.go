package nvr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishConnectedSuppressesDuplicates(t *testing.T) {
	bus := NewEventBus("cam-1")
	var calls []bool
	bus.RegisterConnectionObserver(func(cameraID string, connected bool) {
		assert.Equal(t, "cam-1", cameraID)
		calls = append(calls, connected)
	})

	bus.PublishConnected(true)
	bus.PublishConnected(true) // duplicate, suppressed
	bus.PublishConnected(false)
	bus.PublishConnected(false) // duplicate, suppressed
	bus.PublishConnected(true)

	assert.Equal(t, []bool{true, false, true}, calls)
}

func TestPublishRecordingSuppressesDuplicates(t *testing.T) {
	bus := NewEventBus("cam-1")
	var calls []bool
	bus.RegisterRecordingObserver(func(cameraID string, recording bool, reason RecordingFailureReason) {
		calls = append(calls, recording)
	})

	bus.PublishRecording(true, ReasonNone)
	bus.PublishRecording(true, ReasonNone)
	bus.PublishRecording(false, ReasonStorage)

	assert.Equal(t, []bool{true, false}, calls)
}

func TestUnregisterStopsFurtherDelivery(t *testing.T) {
	bus := NewEventBus("cam-1")
	calls := 0
	handle := bus.RegisterConnectionObserver(func(string, bool) { calls++ })

	bus.PublishConnected(true)
	bus.UnregisterConnectionObserver(handle)
	bus.PublishConnected(false)

	assert.Equal(t, 1, calls)
}

func TestRemoveAllClearsObservers(t *testing.T) {
	bus := NewEventBus("cam-1")
	connCalls, recCalls := 0, 0
	bus.RegisterConnectionObserver(func(string, bool) { connCalls++ })
	bus.RegisterRecordingObserver(func(string, bool, RecordingFailureReason) { recCalls++ })

	bus.RemoveAll()
	bus.PublishConnected(true)
	bus.PublishRecording(true, ReasonNone)

	assert.Equal(t, 0, connCalls)
	assert.Equal(t, 0, recCalls)
}
