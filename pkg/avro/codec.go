package avro

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
	"github.com/riferrei/srclient"
	"golang.org/x/sync/singleflight"
)

// Confluent wire format: magic byte (1) + schema ID (4) + Avro binary.
const wireFormatHeaderSize = 5

type schemaEntry struct {
	schemaID int
	schema   avro.Schema
}

// Codec decodes and encodes Confluent-wire-format Avro messages with cached,
// deduplicated schema registry lookups.
type Codec struct {
	client *srclient.SchemaRegistryClient

	bySubject sync.Map // map[string]schemaEntry
	byID      sync.Map // map[int]avro.Schema
	fetch     singleflight.Group
}

func NewCodec(registryURL string) *Codec {
	return &Codec{client: srclient.CreateSchemaRegistryClient(registryURL)}
}

// Decode unwraps a Confluent-wire payload into a field map, fetching and
// caching the writer schema by its embedded ID.
func (c *Codec) Decode(payload []byte) (map[string]any, error) {
	if len(payload) < wireFormatHeaderSize || payload[0] != 0 {
		return nil, fmt.Errorf("invalid wire format: missing magic byte or too short")
	}
	schemaID := int(binary.BigEndian.Uint32(payload[1:wireFormatHeaderSize]))

	schema, err := c.schemaByID(schemaID)
	if err != nil {
		return nil, fmt.Errorf("get schema for ID %d: %w", schemaID, err)
	}

	var out map[string]any
	if err := avro.Unmarshal(schema, payload[wireFormatHeaderSize:], &out); err != nil {
		return nil, fmt.Errorf("unmarshal for ID %d: %w", schemaID, err)
	}
	return out, nil
}

// Encode wraps a native record into a Confluent-wire payload using the
// latest schema registered for the subject.
func (c *Codec) Encode(subject string, native map[string]any) ([]byte, error) {
	schemaID, schema, err := c.schemaBySubject(subject)
	if err != nil {
		return nil, fmt.Errorf("get schema for %s: %w", subject, err)
	}

	binaryData, err := avro.Marshal(schema, native)
	if err != nil {
		return nil, fmt.Errorf("marshal for %s: %w", subject, err)
	}

	if schemaID < 0 || schemaID > 0xFFFFFFFF {
		return nil, fmt.Errorf("schema ID %d out of uint32 range", schemaID)
	}
	out := make([]byte, wireFormatHeaderSize+len(binaryData))
	out[0] = 0
	binary.BigEndian.PutUint32(out[1:wireFormatHeaderSize], uint32(schemaID))
	copy(out[wireFormatHeaderSize:], binaryData)
	return out, nil
}

// EnsureSchema makes sure the subject has a schema registered, creating it
// from schemaJSON when the subject does not exist yet, and primes the codec's
// caches with the result so the first Encode needs no registry round trip.
func (c *Codec) EnsureSchema(subject, schemaJSON string) (int, error) {
	meta, err := c.client.GetLatestSchema(subject)
	if err != nil {
		meta, err = c.client.CreateSchema(subject, schemaJSON, srclient.Avro)
		if err != nil {
			return 0, fmt.Errorf("register schema for %s: %w", subject, err)
		}
	}

	schema, err := avro.Parse(meta.Schema())
	if err != nil {
		return 0, fmt.Errorf("parse schema for %s: %w", subject, err)
	}
	c.bySubject.Store(subject, schemaEntry{schemaID: meta.ID(), schema: schema})
	c.byID.Store(meta.ID(), schema)
	return meta.ID(), nil
}

func (c *Codec) schemaByID(schemaID int) (avro.Schema, error) {
	if v, ok := c.byID.Load(schemaID); ok {
		return v.(avro.Schema), nil
	}

	val, err, _ := c.fetch.Do(fmt.Sprintf("id:%d", schemaID), func() (interface{}, error) {
		schemaMeta, err := c.client.GetSchema(schemaID)
		if err != nil {
			return nil, fmt.Errorf("fetch schema ID %d: %w", schemaID, err)
		}
		schema, err := avro.Parse(schemaMeta.Schema())
		if err != nil {
			return nil, fmt.Errorf("parse schema ID %d: %w", schemaID, err)
		}
		c.byID.Store(schemaID, schema)
		return schema, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(avro.Schema), nil
}

func (c *Codec) schemaBySubject(subject string) (int, avro.Schema, error) {
	if v, ok := c.bySubject.Load(subject); ok {
		se := v.(schemaEntry)
		return se.schemaID, se.schema, nil
	}

	val, err, _ := c.fetch.Do(subject, func() (interface{}, error) {
		schemaMeta, err := c.client.GetLatestSchema(subject)
		if err != nil {
			return nil, fmt.Errorf("fetch schema %s: %w", subject, err)
		}
		schema, err := avro.Parse(schemaMeta.Schema())
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", subject, err)
		}
		se := schemaEntry{schemaID: schemaMeta.ID(), schema: schema}
		c.bySubject.Store(subject, se)
		c.byID.Store(schemaMeta.ID(), schema)
		return se, nil
	})
	if err != nil {
		return 0, nil, err
	}
	se := val.(schemaEntry)
	return se.schemaID, se.schema, nil
}
