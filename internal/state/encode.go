package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/strata-io/strata/internal/ir"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseState verifies and decodes raw state bytes. The caller reads the
// input to completion first; verification never works on a partial
// stream. Any verification failure is ErrMalformedState, reported before
// lineage or serial are ever looked at.
func ParseState(raw []byte) (*ir.State, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedState)
	}
	if bytes.HasPrefix(raw, utf8BOM) {
		return nil, fmt.Errorf("%w: byte-order mark not allowed", ErrMalformedState)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid UTF-8 encoding", ErrMalformedState)
	}

	var st ir.State
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after state document", ErrMalformedState)
	}
	if st.Version < 1 {
		return nil, fmt.Errorf("%w: missing or invalid state version", ErrMalformedState)
	}
	if st.Serial < 0 {
		return nil, fmt.Errorf("%w: negative serial %d", ErrMalformedState, st.Serial)
	}

	return &st, nil
}

// EncodeState renders a state in its canonical form: UTF-8 JSON with
// two-space indent and a trailing newline, no byte-order mark.
func EncodeState(st *ir.State) ([]byte, error) {
	out := *st
	if out.Resources == nil {
		out.Resources = []*ir.ResourceState{}
	}

	buf, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	return append(buf, '\n'), nil
}
