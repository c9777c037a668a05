package session

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CanonicalEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano

	var err error
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("session: cbor encoder: %v", err))
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(fmt.Sprintf("session: cbor decoder: %v", err))
	}
}

// Encode serializes a session snapshot as canonical CBOR.
func Encode(s *Session) ([]byte, error) {
	b, err := encMode.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding session %s: %w", s.ID, err)
	}
	return b, nil
}

// Decode restores a session from Encode's output. The decoded session is
// clean.
func Decode(data []byte) (*Session, error) {
	var s Session
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if s.ID == "" || len(s.Participants) == 0 {
		return nil, fmt.Errorf("decoding session: incomplete snapshot")
	}
	if err := s.Params.Validate(len(s.Participants)); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", s.ID, err)
	}
	if s.Commitments == nil {
		s.Commitments = map[string]Commitment{}
	}
	if s.Reveals == nil {
		s.Reveals = map[string]Reveal{}
	}
	return &s, nil
}
