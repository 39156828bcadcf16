package provenance

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Kind:     EventLLMCall,
		TenantID: "tenant-1",
		RunID:    "run-1",
		Tokens:   1200,
		Cost:     0.003,
	})

	select {
	case event := <-sub:
		assert.Equal(t, EventLLMCall, event.Kind)
		assert.Equal(t, "run-1", event.RunID)
		assert.False(t, event.Timestamp.IsZero(), "timestamp should be stamped on publish")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	defer broker.Unsubscribe(sub2)

	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Kind: EventTierDemotion, RunID: "run-1"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			assert.Equal(t, EventTierDemotion, event.Kind)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and further events are skipped.
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			broker.Publish(&Event{Kind: EventToolCall, RunID: "run-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestJSONLSink(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	path := filepath.Join(t.TempDir(), "provenance.jsonl")
	sink, err := NewJSONLSink(broker, path)
	require.NoError(t, err)

	broker.Publish(&Event{Kind: EventLLMCall, RunID: "run-1", Tokens: 500})
	broker.Publish(&Event{Kind: EventTierDemotion, RunID: "run-1"})

	// Give the distribution loop time to drain before closing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, sink.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var kinds []EventKind
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		kinds = append(kinds, event.Kind)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []EventKind{EventLLMCall, EventTierDemotion}, kinds)
}
