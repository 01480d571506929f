package bundle

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clwhipp/yubikey-utils/internal/envelope"
)

// Wire representation of the store. Raw byte fields are base64 so the
// persisted form stays text-safe.
type storeRecord struct {
	Version int                         `json:"version"`
	Devices map[string][]envelopeRecord `json:"devices"`
}

type envelopeRecord struct {
	Context    string    `json:"context"`
	Salt       string    `json:"salt"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
	Tag        string    `json:"tag"`
	CreatedAt  time.Time `json:"created_at"`
}

// Marshal encodes the store into its versioned persisted form.
func Marshal(s *Store) ([]byte, error) {
	rec := storeRecord{
		Version: FormatVersion,
		Devices: make(map[string][]envelopeRecord, len(s.devices)),
	}
	for serial, envs := range s.devices {
		records := make([]envelopeRecord, len(envs))
		for i, e := range envs {
			records[i] = envelopeRecord{
				Context:    e.Context,
				Salt:       base64.StdEncoding.EncodeToString(e.Salt),
				Nonce:      base64.StdEncoding.EncodeToString(e.Nonce),
				Ciphertext: base64.StdEncoding.EncodeToString(e.Ciphertext),
				Tag:        base64.StdEncoding.EncodeToString(e.Tag),
				CreatedAt:  e.CreatedAt.UTC(),
			}
		}
		rec.Devices[serial] = records
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding store: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted store. Stores written by a newer format
// version are rejected rather than silently misread.
func Unmarshal(data []byte) (*Store, error) {
	var rec storeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding store: %w", err)
	}
	if rec.Version > FormatVersion {
		return nil, fmt.Errorf("store format version %d is newer than supported version %d", rec.Version, FormatVersion)
	}

	s := NewStore()
	for serial, records := range rec.Devices {
		for _, r := range records {
			env, err := decodeEnvelope(r)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", serial, err)
			}
			s.Insert(serial, env)
		}
	}
	return s, nil
}

func decodeEnvelope(r envelopeRecord) (envelope.Envelope, error) {
	var env envelope.Envelope
	var err error

	env.Context = r.Context
	env.CreatedAt = r.CreatedAt
	if env.Salt, err = base64.StdEncoding.DecodeString(r.Salt); err != nil {
		return env, fmt.Errorf("decoding salt: %w", err)
	}
	if env.Nonce, err = base64.StdEncoding.DecodeString(r.Nonce); err != nil {
		return env, fmt.Errorf("decoding nonce: %w", err)
	}
	if env.Ciphertext, err = base64.StdEncoding.DecodeString(r.Ciphertext); err != nil {
		return env, fmt.Errorf("decoding ciphertext: %w", err)
	}
	if env.Tag, err = base64.StdEncoding.DecodeString(r.Tag); err != nil {
		return env, fmt.Errorf("decoding tag: %w", err)
	}
	return env, nil
}
