package events

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestRequestedRoundTrip(t *testing.T) {
	idx, total := 2, 5
	e := New(&SqlCheckRequested{
		JobID:       "job-00000000-0000-0000-0000-000000000001",
		FileName:    "report.sql",
		SQLFilePath: "jobs/job-00000000-0000-0000-0000-000000000001/report.sql",
		Dialect:     "mysql",
		BatchID:     "batch-00000000-0000-0000-0000-000000000002",
		FileIndex:   &idx,
		TotalFiles:  &total,
	}, "req-00000000-0000-0000-0000-000000000003")

	data, err := Encode(e)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.EventID != e.EventID || got.EventType != e.EventType ||
		got.Timestamp != e.Timestamp || got.CorrelationID != e.CorrelationID {
		t.Fatalf("envelope mismatch: %+v vs %+v", got, e)
	}
	p, ok := got.Payload.(*SqlCheckRequested)
	if !ok {
		t.Fatalf("payload decoded as %T", got.Payload)
	}
	if p.JobID != "job-00000000-0000-0000-0000-000000000001" || p.FileName != "report.sql" {
		t.Fatalf("payload mismatch: %+v", p)
	}
	if p.FileIndex == nil || *p.FileIndex != 2 || p.TotalFiles == nil || *p.TotalFiles != 5 {
		t.Fatalf("batch triplet lost: %+v", p)
	}
}

func TestUnknownPayloadFieldsSurviveRepublish(t *testing.T) {
	in := []byte(`{
		"event_id": "evt-00000000-0000-0000-0000-00000000000a",
		"event_type": "SqlCheckFailed",
		"timestamp": "2025-06-27T09:30:00.000000Z",
		"correlation_id": "req-00000000-0000-0000-0000-00000000000b",
		"payload": {
			"job_id": "job-00000000-0000-0000-0000-00000000000c",
			"file_name": "a.sql",
			"error": {"code": "BUS_PUBLISH", "message": "publish failed", "kind": "BUS"},
			"worker_id": "worker-h-1",
			"trace_hint": {"span": "abc123"},
			"priority": 7
		}
	}`)

	e, err := Decode(in)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	p, ok := e.Payload.(*SqlCheckFailed)
	if !ok {
		t.Fatalf("payload decoded as %T", e.Payload)
	}
	if p.Error.Kind != "BUS" || p.Error.Code != "BUS_PUBLISH" {
		t.Fatalf("error info mismatch: %+v", p.Error)
	}
	if len(p.Extensions) != 2 {
		t.Fatalf("expected 2 extension keys, got %v", p.Extensions)
	}

	out, err := Encode(e)
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("re-encoded envelope not an object: %v", err)
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(m["payload"], &payload); err != nil {
		t.Fatalf("re-encoded payload not an object: %v", err)
	}
	if !bytes.Equal(payload["priority"], []byte("7")) {
		t.Fatalf("unknown field dropped or mangled: %s", payload["priority"])
	}
	if string(payload["trace_hint"]) != `{"span":"abc123"}` {
		t.Fatalf("unknown object field mangled: %s", payload["trace_hint"])
	}
}

func TestUnknownEventTypeDecodesRaw(t *testing.T) {
	in := []byte(`{
		"event_id": "evt-00000000-0000-0000-0000-00000000000a",
		"event_type": "SomethingNew",
		"timestamp": "2025-06-27T09:30:00.000000Z",
		"correlation_id": "req-00000000-0000-0000-0000-00000000000b",
		"payload": {"anything": true}
	}`)
	e, err := Decode(in)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	p, ok := e.Payload.(*RawPayload)
	if !ok {
		t.Fatalf("payload decoded as %T", e.Payload)
	}
	if p.EventType() != Type("SomethingNew") {
		t.Fatalf("raw payload lost its type: %q", p.EventType())
	}
	if string(p.Body) != `{"anything": true}` {
		t.Fatalf("raw body mangled: %s", p.Body)
	}

	out, err := Encode(e)
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("re-encoded envelope not an object: %v", err)
	}
	var body map[string]bool
	if err := json.Unmarshal(m["payload"], &body); err != nil || !body["anything"] {
		t.Fatalf("raw payload not preserved: %s", m["payload"])
	}
}

func TestHeartbeatStatusFields(t *testing.T) {
	hb := &WorkerHeartbeat{
		WorkerID:       "worker-h-42",
		CurrentTasks:   1,
		TotalProcessed: 12,
		UptimeSeconds:  90.5,
		Status:         WorkerStatusBusy,
	}
	data, err := Encode(New(hb, ""))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	e, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got, ok := e.Payload.(*WorkerHeartbeat)
	if !ok {
		t.Fatalf("payload decoded as %T", e.Payload)
	}
	if got.Status != WorkerStatusBusy || got.CurrentTasks != 1 || got.TotalProcessed != 12 {
		t.Fatalf("heartbeat mismatch: %+v", got)
	}
}
