package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsight/icsight/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	envs []model.Envelope
}

func (r *recordingSink) Enqueue(env model.Envelope) {
	r.envs = append(r.envs, env)
}

const validClassification = `{
	"packet_id": 1,
	"timestamp": "2026-08-25T10:00:00",
	"source_ip": "192.168.1.10",
	"destination_ip": "192.168.1.20",
	"protocol": "tcp",
	"severity": "normal"
}`

func TestHandleMessage_EnvelopedClassification(t *testing.T) {
	sink := &recordingSink{}
	s := NewSubscriber(nil, sink, "icsight", testLogger(), nil)

	env, err := json.Marshal(model.Envelope{
		Type: model.TypeClassification,
		Data: json.RawMessage(validClassification),
	})
	require.NoError(t, err)

	s.handleMessage(&nats.Msg{Subject: SubjectClassifications, Data: env})

	require.Len(t, sink.envs, 1)
	assert.Equal(t, model.TypeClassification, sink.envs[0].Type)
}

func TestHandleMessage_BarePayloadWrapped(t *testing.T) {
	sink := &recordingSink{}
	s := NewSubscriber(nil, sink, "icsight", testLogger(), nil)

	s.handleMessage(&nats.Msg{Subject: SubjectClassifications, Data: []byte(validClassification)})

	require.Len(t, sink.envs, 1)
	assert.Equal(t, model.TypeClassification, sink.envs[0].Type)
	assert.JSONEq(t, validClassification, string(sink.envs[0].Data))
}

func TestHandleMessage_MalformedDropped(t *testing.T) {
	sink := &recordingSink{}
	s := NewSubscriber(nil, sink, "icsight", testLogger(), nil)

	s.handleMessage(&nats.Msg{Subject: SubjectClassifications, Data: []byte(`{not json`)})
	s.handleMessage(&nats.Msg{Subject: SubjectClassifications, Data: []byte(`{"packet_id": 1}`)})
	s.handleMessage(&nats.Msg{Subject: SubjectClassifications, Data: []byte(`{"type":"status","data":{}}`)})

	assert.Empty(t, sink.envs)
}
