package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auranym/dicechat/pkg/logger"
)

func TestEnqueueAfterStop(t *testing.T) {
	p := NewPeer(nil, nil, logger.Nop())
	assert.True(t, p.enqueue(Frame{Op: OpBound}))

	p.stop()
	assert.NotPanics(t, func() {
		assert.False(t, p.enqueue(Frame{Op: OpData, Data: "late"}))
	})

	// Stopping again is a no-op.
	p.stop()
}

func TestEnqueueFullQueue(t *testing.T) {
	p := NewPeer(nil, nil, logger.Nop())
	for i := 0; i < sendBuffer; i++ {
		require.True(t, p.enqueue(Frame{Op: OpData}))
	}
	assert.False(t, p.enqueue(Frame{Op: OpData}))
}

// Routing a frame must never panic when the target disconnects
// concurrently: the hub can hold a peer reference after its teardown
// has started.
func TestRouteRacesDisconnect(t *testing.T) {
	hub := NewHub(NewMemoryRegistry(), logger.Nop())

	sender := NewPeer(nil, hub, logger.Nop())
	require.NoError(t, hub.bind(sender, "sender"))
	sender.setBoundID("sender")

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("target-%d", i)
		target := NewPeer(nil, hub, logger.Nop())
		require.NoError(t, hub.bind(target, id))
		target.setBoundID(id)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				hub.route(sender, Frame{Op: OpData, Target: id, Channel: "c"})
			}
		}()
		go func() {
			defer wg.Done()
			hub.unbind(target)
		}()
		wg.Wait()

		// Drain the frames the sender accumulated so routing in later
		// iterations is not starved by a full queue.
		for {
			select {
			case <-sender.send:
				continue
			default:
			}
			break
		}
		for {
			select {
			case <-target.send:
				continue
			default:
			}
			break
		}
	}
}
