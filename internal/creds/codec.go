// ABOUTME: Binary-safe JSON codec for credential snapshots
// ABOUTME: Wraps byte blobs as {"type":"Buffer","data":base64} so key material survives JSON

package creds

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// wireBlob is the JSON shape used for opaque binary payloads. The "Buffer"
// tag matches the wire shape legacy snapshots were written in, so old backup
// files remain readable.
type wireBlob struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// snapshot is the serialized form of a Record.
type snapshot struct {
	SessionID string                         `json:"session_id"`
	Version   int                            `json:"version"`
	Keys      map[string]map[string]wireBlob `json:"keys"`
}

// EncodeBlob wraps an opaque binary blob for JSON transport.
func EncodeBlob(blob []byte) ([]byte, error) {
	return json.Marshal(wireBlob{Type: "Buffer", Data: base64.StdEncoding.EncodeToString(blob)})
}

// DecodeBlob unwraps a blob encoded by EncodeBlob. It rejects payloads that
// are not Buffer-tagged rather than guessing at their shape.
func DecodeBlob(data []byte) ([]byte, error) {
	var w wireBlob
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding blob envelope: %w", err)
	}
	if w.Type != "Buffer" {
		return nil, fmt.Errorf("unexpected blob type %q", w.Type)
	}
	raw, err := base64.StdEncoding.DecodeString(w.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding blob payload: %w", err)
	}
	return raw, nil
}

// MarshalRecord serializes a record for backup snapshots.
func MarshalRecord(r *Record) ([]byte, error) {
	s := snapshot{
		SessionID: r.SessionID,
		Version:   r.Version,
		Keys:      make(map[string]map[string]wireBlob, len(r.Keys)),
	}
	for category, keys := range r.Keys {
		s.Keys[category] = make(map[string]wireBlob, len(keys))
		for key, blob := range keys {
			s.Keys[category][key] = wireBlob{
				Type: "Buffer",
				Data: base64.StdEncoding.EncodeToString(blob),
			}
		}
	}
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalRecord restores a record from a backup snapshot.
func UnmarshalRecord(data []byte) (*Record, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	r := NewRecord(s.SessionID)
	r.Version = s.Version
	for category, keys := range s.Keys {
		for key, w := range keys {
			raw, err := base64.StdEncoding.DecodeString(w.Data)
			if err != nil {
				return nil, fmt.Errorf("decoding snapshot blob %s/%s: %w", category, key, err)
			}
			r.Set(category, key, raw)
		}
	}
	r.Exists = r.Root() != nil
	return r, nil
}
