package persistence

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"moduforge.dev/moduforge/internal/step"
	"moduforge.dev/moduforge/internal/transaction"
)

// Step framing on the stream: each step is one kind byte followed by a
// uvarint length and the JSON payload of its wire form. A batch encodes as
// the batch kind byte plus a uvarint count and each sub-step framed the
// same way, so a reader can skip steps it does not understand.

// EncodeSteps serializes a transaction's steps into the stream framing.
func EncodeSteps(steps []step.Step) ([]byte, error) {
	var out []byte
	out = binary.AppendUvarint(out, uint64(len(steps)))
	for _, s := range steps {
		frame, err := encodeOne(s)
		if err != nil {
			return nil, err
		}
		out = append(out, frame...)
	}
	return out, nil
}

func encodeOne(s step.Step) ([]byte, error) {
	w, err := step.ToWire(s)
	if err != nil {
		return nil, err
	}
	if w.Kind == step.WireBatch {
		var out []byte
		out = append(out, step.WireBatch)
		batch := s.(step.BatchStep)
		out = binary.AppendUvarint(out, uint64(len(batch.Steps)))
		for _, sub := range batch.Steps {
			frame, err := encodeOne(sub)
			if err != nil {
				return nil, err
			}
			out = append(out, frame...)
		}
		return out, nil
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("persistence: marshal step: %w", err)
	}
	var out []byte
	out = append(out, w.Kind)
	out = binary.AppendUvarint(out, uint64(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// DecodeSteps reverses EncodeSteps.
func DecodeSteps(data []byte) ([]step.Step, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("persistence: truncated step stream header")
	}
	rest := data[n:]
	steps := make([]step.Step, 0, count)
	for i := uint64(0); i < count; i++ {
		s, remaining, err := decodeOne(rest)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
		rest = remaining
	}
	return steps, nil
}

func decodeOne(data []byte) (step.Step, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("persistence: truncated step frame")
	}
	kind := data[0]
	rest := data[1:]
	if kind == step.WireBatch {
		count, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, nil, fmt.Errorf("persistence: truncated batch header")
		}
		rest = rest[n:]
		subs := make([]step.Step, 0, count)
		for i := uint64(0); i < count; i++ {
			sub, remaining, err := decodeOne(rest)
			if err != nil {
				return nil, nil, err
			}
			subs = append(subs, sub)
			rest = remaining
		}
		return step.BatchStep{Steps: subs}, rest, nil
	}

	length, n := binary.Uvarint(rest)
	if n <= 0 || uint64(len(rest[n:])) < length {
		return nil, nil, fmt.Errorf("persistence: truncated step payload")
	}
	payload := rest[n : n+int(length)]
	var w step.WireStep
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, nil, fmt.Errorf("persistence: unmarshal step: %w", err)
	}
	// JSON round-trip loses the kind byte's authority to the payload; the
	// frame byte wins if they disagree.
	w.Kind = kind
	s, err := step.FromWire(w)
	if err != nil {
		return nil, nil, err
	}
	return s, rest[n+int(length):], nil
}

// EncodeTransaction converts a committed transaction into a PersistedEvent.
func EncodeTransaction(tr *transaction.Transaction) (PersistedEvent, error) {
	stepsEncoded, err := EncodeSteps(tr.Steps())
	if err != nil {
		return PersistedEvent{}, err
	}
	metaEncoded, err := json.Marshal(tr.Meta())
	if err != nil {
		return PersistedEvent{}, fmt.Errorf("persistence: marshal meta: %w", err)
	}
	return PersistedEvent{
		TransactionID: tr.ID().String(),
		ParentVersion: tr.DerivedFromStateVersion(),
		StepsEncoded:  stepsEncoded,
		MetaEncoded:   metaEncoded,
	}, nil
}
