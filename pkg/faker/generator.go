package faker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand" // Using weak random for test data generation only
	"net/http"
	"time"

	"github.com/streamwin/streamwin/pkg/logger"
)

const (
	httpOKStatus       = 200 // HTTP OK status code
	httpErrorThreshold = 300 // HTTP error status threshold
	maxValue           = 100.0

	// maxEventDelay exceeds the default out-of-orderness bound, so a
	// fraction of generated measurements arrives genuinely late.
	maxEventDelay = 2 * time.Second

	stringValueRatio = 0.1
)

var locations = []string{
	"berlin", "oslo", "lima", "pune", "kyiv", "quito",
	"tokyo", "paris", "accra", "seoul",
}

func randomLocation() string {
	return locations[rand.Intn(len(locations))] //nolint:gosec // Using weak random for test data generation only
}

// Measurement builds one random measurement with a backdated event time.
// Roughly one value in ten is rendered as a numeric string, which the engine
// must parse the same as a number.
func Measurement() map[string]any {
	skew := time.Duration(rand.Int63n(int64(maxEventDelay))) //nolint:gosec // Using weak random for test data generation only
	value := rand.Float64() * maxValue                       //nolint:gosec // Using weak random for test data generation only

	m := map[string]any{
		"location":  randomLocation(),
		"timestamp": time.Now().Add(-skew).UnixMilli(),
		"value":     value,
	}
	if rand.Float64() < stringValueRatio { //nolint:gosec // Using weak random for test data generation only
		m["value"] = fmt.Sprintf("%.2f", value)
	}
	return m
}

// AvroMeasurement is Measurement shaped for the registered Avro schema:
// timestamp-millis marshals from a time.Time and value is always a double.
func AvroMeasurement() map[string]any {
	skew := time.Duration(rand.Int63n(int64(maxEventDelay))) //nolint:gosec // Using weak random for test data generation only
	return map[string]any{
		"location":  randomLocation(),
		"timestamp": time.Now().Add(-skew),
		"value":     rand.Float64() * maxValue, //nolint:gosec // Using weak random for test data generation only
	}
}

// Corrupt returns a payload the engine cannot decode, for exercising the
// invalid-record path.
func Corrupt() []byte {
	corrupts := [][]byte{
		[]byte(`not json`),
		[]byte(`{"location":"berlin","timestamp":100`),
		[]byte(`{"location":"berlin","timestamp":100,"value":"too hot"}`),
		{0x00, 0xde, 0xad, 0xbe, 0xef},
	}
	return corrupts[rand.Intn(len(corrupts))] //nolint:gosec // Using weak random for test data generation only
}

const measurementSchema = `{
  "type": "record",
  "name": "Measurement",
  "fields": [
    {"name": "location", "type": "string"},
    {
      "name": "timestamp",
      "type": {
        "type": "long",
        "logicalType": "timestamp-millis"
      }
    },
    {"name": "value", "type": "double"}
  ]
}`

// RegisterSchema registers the measurement schema for the given topic's value
// subject, skipping registration when an identical schema is already present.
func RegisterSchema(registryURL, topic string) error {
	subject := fmt.Sprintf("%s-value", topic)

	getURL := fmt.Sprintf("%s/subjects/%s/versions/latest", registryURL, subject)
	getReq, err := http.NewRequestWithContext(context.Background(), "GET", getURL, http.NoBody)
	if err != nil {
		return err
	}
	getReq.Header.Set("Accept", "application/vnd.schemaregistry.v1+json")

	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		return err
	}
	defer getResp.Body.Close()

	if getResp.StatusCode == httpOKStatus {
		var existing map[string]interface{}
		if decodeErr := json.NewDecoder(getResp.Body).Decode(&existing); decodeErr != nil {
			return fmt.Errorf("failed to decode existing schema: %v", decodeErr)
		}
		if schema, ok := existing["schema"].(string); ok && schema == measurementSchema {
			log := logger.Get("faker")
			log.Info().Str("subject", subject).Msg("schema already registered, skipping")
			return nil
		}
	}

	body, err := json.Marshal(map[string]string{"schema": measurementSchema})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/subjects/%s/versions", registryURL, subject)
	req, err := http.NewRequestWithContext(context.Background(), "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= httpErrorThreshold {
		return fmt.Errorf("failed to register schema: %s", resp.Status)
	}
	return nil
}
