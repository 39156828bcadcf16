package provenance

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paddockio/paddock/pkg/log"
)

// JSONLSink appends provenance events to a file, one JSON object per line.
// It runs as a broker subscriber on its own goroutine.
type JSONLSink struct {
	file   *os.File
	sub    Subscriber
	broker *Broker
	doneCh chan struct{}
}

// NewJSONLSink opens (or creates) the sink file and attaches to the broker.
func NewJSONLSink(broker *Broker, path string) (*JSONLSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open provenance sink: %w", err)
	}

	s := &JSONLSink{
		file:   file,
		sub:    broker.Subscribe(),
		broker: broker,
		doneCh: make(chan struct{}),
	}
	go s.run()
	return s, nil
}

func (s *JSONLSink) run() {
	defer close(s.doneCh)
	logger := log.WithComponent("provenance-sink")

	enc := json.NewEncoder(s.file)
	for event := range s.sub {
		if err := enc.Encode(event); err != nil {
			logger.Warn().Err(err).Msg("Failed to append provenance event")
		}
	}
}

// Close detaches from the broker and closes the file.
func (s *JSONLSink) Close() error {
	s.broker.Unsubscribe(s.sub)
	<-s.doneCh
	return s.file.Close()
}
