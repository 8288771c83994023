package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestDecodeResult(t *testing.T) {
	id := uuid.New()
	raw := []byte(`{
		"schema_version": 1,
		"job_id": "` + id.String() + `",
		"status": "SUCCEEDED",
		"summary": "disk pressure on node-3",
		"severity": "HIGH",
		"confidence": 0.92,
		"latency_ms": 840,
		"trace_id": "trace-1"
	}`)

	ev, err := DecodeResult(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.JobID != id || ev.Status != ResultSucceeded {
		t.Fatalf("decoded %+v", ev)
	}
	if ev.Confidence == nil || *ev.Confidence != 0.92 {
		t.Fatalf("confidence = %v", ev.Confidence)
	}
	if ev.LatencyMs == nil || *ev.LatencyMs != 840 {
		t.Fatalf("latency = %v", ev.LatencyMs)
	}
}

func TestDecodeResultMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"invalid json":   `{"job_id":`,
		"missing job id": `{"schema_version":1,"status":"SUCCEEDED"}`,
		"missing status": `{"schema_version":1,"job_id":"` + uuid.NewString() + `"}`,
		"unknown status": `{"schema_version":1,"job_id":"` + uuid.NewString() + `","status":"PARTIAL"}`,
	} {
		if _, err := DecodeResult([]byte(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: err = %v, want ErrMalformed", name, err)
		}
	}
}

func TestDecodeDeadLetterOptionalIdentifiers(t *testing.T) {
	ev, err := DecodeDeadLetter([]byte(`{"schema_version":1,"error_message":"poison pill","original_topic":"analysis.requests"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.JobID != nil || ev.IdempotencyKey != "" {
		t.Fatalf("identifiers should be absent: %+v", ev)
	}
	if ev.OriginalTopic != "analysis.requests" {
		t.Fatalf("original topic = %q", ev.OriginalTopic)
	}
}

func TestRequestEventWireFormat(t *testing.T) {
	raw, err := json.Marshal(RequestEvent{
		SchemaVersion:  SchemaVersion,
		JobID:          uuid.New(),
		IdempotencyKey: "k1",
		WorkRef:        "log:42",
	})
	if err != nil {
		t.Fatal(err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"schema_version", "job_id", "idempotency_key", "work_ref", "timestamp_utc"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("wire field %q missing", key)
		}
	}
}
