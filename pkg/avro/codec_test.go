package avro

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	hamba "github.com/hamba/avro/v2"

	"github.com/streamwin/streamwin/pkg/aggregate"
)

const measurementSchema = `{
  "type": "record",
  "name": "Measurement",
  "fields": [
    {"name": "location", "type": "string"},
    {"name": "timestamp", "type": "long"},
    {"name": "value", "type": "double"}
  ]
}`

// fakeRegistry serves the measurement schema under ID 1 and counts hits so
// tests can verify schema caching.
func fakeRegistry(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"subject": "measurements-value",
		"id":      1,
		"version": 1,
		"schema":  measurementSchema,
	})
	if err != nil {
		t.Fatalf("failed to marshal registry response: %v", err)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/schemas/ids/") || strings.Contains(r.URL.Path, "/versions/latest") {
			hits.Add(1)
			w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
			if _, err := w.Write(body); err != nil {
				t.Errorf("failed to write response: %v", err)
			}
			return
		}
		http.NotFound(w, r)
	}))
}

func wirePayload(t *testing.T, schemaID int, native map[string]any) []byte {
	t.Helper()

	schema, err := hamba.Parse(measurementSchema)
	if err != nil {
		t.Fatalf("failed to parse schema: %v", err)
	}
	data, err := hamba.Marshal(schema, native)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}

	out := make([]byte, 5+len(data))
	out[0] = 0
	binary.BigEndian.PutUint32(out[1:5], uint32(schemaID)) //nolint:gosec // test IDs are small
	copy(out[5:], data)
	return out
}

// registrableRegistry starts empty and accepts schema registrations, so tests
// can cover the first-run path where an output subject does not exist yet.
func registrableRegistry(t *testing.T, posts *atomic.Int64) *httptest.Server {
	t.Helper()

	var mu sync.Mutex
	registered := make(map[string]string)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/versions"):
			posts.Add(1)
			var req map[string]any
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode registration request: %v", err)
				return
			}
			subject := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/subjects/"), "/versions")
			mu.Lock()
			registered[subject] = req["schema"].(string)
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 7})
		case strings.HasSuffix(r.URL.Path, "/versions/latest"):
			subject := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/subjects/"), "/versions/latest")
			mu.Lock()
			schema, ok := registered[subject]
			mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				_ = json.NewEncoder(w).Encode(map[string]any{"error_code": 40401, "message": "subject not found"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"subject": subject, "id": 7, "version": 1, "schema": schema})
		case strings.HasPrefix(r.URL.Path, "/schemas/ids/"):
			mu.Lock()
			var schema string
			for _, s := range registered {
				schema = s
			}
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"schema": schema})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestEnsureSchemaRegistersMissingSubject(t *testing.T) {
	var posts atomic.Int64
	registry := registrableRegistry(t, &posts)
	defer registry.Close()

	codec := NewCodec(registry.URL)

	id, err := codec.EnsureSchema("windowed_measurements-value", aggregate.AvroSchema)
	if err != nil {
		t.Fatalf("EnsureSchema returned error: %v", err)
	}
	if posts.Load() != 1 {
		t.Errorf("Expected 1 registration, got %d", posts.Load())
	}

	again, err := codec.EnsureSchema("windowed_measurements-value", aggregate.AvroSchema)
	if err != nil {
		t.Fatalf("Second EnsureSchema returned error: %v", err)
	}
	if again != id {
		t.Errorf("Expected stable schema ID %d, got %d", id, again)
	}
	if posts.Load() != 1 {
		t.Errorf("Existing subject must not be re-registered, got %d registrations", posts.Load())
	}

	// The cache is primed, so a result publishes against the fresh subject.
	result := aggregate.Result{Location: "berlin", WindowStart: 0, WindowEnd: 1000, Sum: 8.0, Count: 2}
	payload, err := codec.Encode("windowed_measurements-value", result.Fields())
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if payload[0] != 0 {
		t.Errorf("Expected magic byte 0, got %d", payload[0])
	}
	if got := binary.BigEndian.Uint32(payload[1:5]); got != uint32(id) {
		t.Errorf("Expected schema ID %d on the wire, got %d", id, got)
	}

	decoded, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded["sumPerWindow"] != 8.0 {
		t.Errorf("Round trip lost sum: %v", decoded["sumPerWindow"])
	}
	if decoded["eventsPerWindow"] != int64(2) {
		t.Errorf("Round trip lost count: %v", decoded["eventsPerWindow"])
	}
}

func TestDecodeWirePayload(t *testing.T) {
	var hits atomic.Int64
	registry := fakeRegistry(t, &hits)
	defer registry.Close()

	codec := NewCodec(registry.URL)
	payload := wirePayload(t, 1, map[string]any{
		"location":  "berlin",
		"timestamp": int64(1_500_000_000_123),
		"value":     42.5,
	})

	fields, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if fields["location"] != "berlin" {
		t.Errorf("Expected location 'berlin', got %v", fields["location"])
	}
	if fields["value"] != 42.5 {
		t.Errorf("Expected value 42.5, got %v", fields["value"])
	}
}

func TestDecodeCachesSchema(t *testing.T) {
	var hits atomic.Int64
	registry := fakeRegistry(t, &hits)
	defer registry.Close()

	codec := NewCodec(registry.URL)
	payload := wirePayload(t, 1, map[string]any{
		"location":  "oslo",
		"timestamp": int64(1000),
		"value":     1.0,
	})

	for i := 0; i < 5; i++ {
		if _, err := codec.Decode(payload); err != nil {
			t.Fatalf("Decode %d returned error: %v", i, err)
		}
	}

	if got := hits.Load(); got != 1 {
		t.Errorf("Expected 1 registry fetch, got %d", got)
	}
}

func TestDecodeRejectsBadWireFormat(t *testing.T) {
	codec := NewCodec("http://registry.invalid")

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"too short", []byte{0, 0, 0}},
		{"wrong magic byte", []byte{1, 0, 0, 0, 1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Decode(tt.payload); err == nil {
				t.Errorf("Expected error for %s payload", tt.name)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var hits atomic.Int64
	registry := fakeRegistry(t, &hits)
	defer registry.Close()

	codec := NewCodec(registry.URL)
	native := map[string]any{
		"location":  "lima",
		"timestamp": int64(77),
		"value":     9.25,
	}

	payload, err := codec.Encode("measurements-value", native)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if payload[0] != 0 {
		t.Errorf("Expected magic byte 0, got %d", payload[0])
	}
	if id := binary.BigEndian.Uint32(payload[1:5]); id != 1 {
		t.Errorf("Expected schema ID 1, got %d", id)
	}

	decoded, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded["location"] != "lima" {
		t.Errorf("Round trip lost location: %v", decoded["location"])
	}
	if fmt.Sprint(decoded["value"]) != "9.25" {
		t.Errorf("Round trip lost value: %v", decoded["value"])
	}
}
