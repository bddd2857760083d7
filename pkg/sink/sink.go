// Package sink emits the tap's output messages as JSON lines. Records,
// schemas, and state snapshots share one ordered writer so downstream
// consumers see state only after the records it accounts for.
package sink

import (
	"bufio"
	"io"
	"sync"

	"github.com/ajitpratap0/mailtap/pkg/errors"
	"github.com/ajitpratap0/mailtap/pkg/jsonutil"
)

// Sink receives the tap's output messages.
type Sink interface {
	WriteSchema(stream string, schema map[string]interface{}, keyProperties []string) error
	WriteRecord(stream string, record map[string]interface{}) error
	WriteState(snapshot map[string]interface{}) error
}

type schemaMessage struct {
	Type          string                 `json:"type"`
	Stream        string                 `json:"stream"`
	Schema        map[string]interface{} `json:"schema"`
	KeyProperties []string               `json:"key_properties"`
}

type recordMessage struct {
	Type   string                 `json:"type"`
	Stream string                 `json:"stream"`
	Record map[string]interface{} `json:"record"`
}

type stateMessage struct {
	Type  string                 `json:"type"`
	Value map[string]interface{} `json:"value"`
}

// MessageWriter writes messages as JSON lines over a buffered writer. Writes
// are serialized and applied in call order with no reordering or backpressure.
type MessageWriter struct {
	mu     sync.Mutex
	writer *bufio.Writer
}

// NewMessageWriter wraps w in a buffered line-oriented message writer.
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{
		writer: bufio.NewWriterSize(w, 64*1024),
	}
}

// WriteSchema emits a SCHEMA message for a stream.
func (m *MessageWriter) WriteSchema(stream string, schema map[string]interface{}, keyProperties []string) error {
	return m.writeLine(schemaMessage{
		Type:          "SCHEMA",
		Stream:        stream,
		Schema:        schema,
		KeyProperties: keyProperties,
	})
}

// WriteRecord emits a RECORD message for a stream.
func (m *MessageWriter) WriteRecord(stream string, record map[string]interface{}) error {
	return m.writeLine(recordMessage{
		Type:   "RECORD",
		Stream: stream,
		Record: record,
	})
}

// WriteState emits a STATE message carrying a full snapshot.
func (m *MessageWriter) WriteState(snapshot map[string]interface{}) error {
	return m.writeLine(stateMessage{
		Type:  "STATE",
		Value: snapshot,
	})
}

func (m *MessageWriter) writeLine(msg interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// the pooled encoder terminates each message with a newline
	if err := jsonutil.MarshalToWriter(m.writer, msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot write output message")
	}
	return nil
}

// Flush drains the output buffer.
func (m *MessageWriter) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writer.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot flush output")
	}
	return nil
}
