package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/labinsight/platform/internal/shared/errors"
)

const (
	// StreamName is the stream holding every run audit entry.
	StreamName = "$lab-audit"
	// RunEventType is the event type for run audit entries.
	RunEventType = "AnalysisRunAudited"
)

// Sink is the interface the pipeline records runs through.
type Sink interface {
	Append(ctx context.Context, entry *RunEntry) error
}

// KurrentDBSink appends run entries to an append-only KurrentDB stream,
// chaining each entry's hash to the previous one.
type KurrentDBSink struct {
	client   *esdb.Client
	mu       sync.Mutex
	lastHash string
	sequence int64
}

// NewKurrentDBSink creates a sink over an esdb client.
func NewKurrentDBSink(client *esdb.Client) *KurrentDBSink {
	return &KurrentDBSink{client: client}
}

// Initialize loads the chain position from the last stored entry. A missing
// stream starts a fresh chain.
func (s *KurrentDBSink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := esdb.ReadStreamOptions{
		Direction: esdb.Backwards,
		From:      esdb.End{},
	}

	stream, err := s.client.ReadStream(ctx, StreamName, opts, 1)
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); ok {
			if esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				s.lastHash = ""
				s.sequence = 0
				return nil
			}
		}
		return errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	event, err := stream.Recv()
	if err != nil {
		s.lastHash = ""
		s.sequence = 0
		return nil
	}

	if event.Event != nil && event.Event.EventType == RunEventType {
		var entry RunEntry
		if err := json.Unmarshal(event.Event.Data, &entry); err == nil {
			s.lastHash = entry.Hash
			s.sequence = entry.Sequence
		}
	}
	return nil
}

// Append stores one run entry (thread-safe).
func (s *KurrentDBSink) Append(ctx context.Context, entry *RunEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sequence++
	entry.Sequence = s.sequence
	entry.PrevHash = s.lastHash
	entry.Hash = entry.ComputeHash()

	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit entry")
	}

	eventData := esdb.EventData{
		EventID:     uuid.New(),
		EventType:   RunEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata:    []byte(fmt.Sprintf(`{"sequence":%d,"hash":"%s"}`, entry.Sequence, entry.Hash)),
	}

	if _, err := s.client.AppendToStream(ctx, StreamName, esdb.AppendToStreamOptions{}, eventData); err != nil {
		s.sequence--
		return errors.Wrap(err, "failed to append audit entry")
	}

	s.lastHash = entry.Hash
	return nil
}

// NopSink discards entries. Used when auditing is not configured.
type NopSink struct{}

func (NopSink) Append(context.Context, *RunEntry) error { return nil }
