package bridge

import (
	"fmt"

	"candybridge/internal/codec"
)

// Result is the outcome of one facade call. Succeeded is true exactly when
// Error is empty, and ID is only present on success.
type Result struct {
	Succeeded bool   `json:"succeeded" cbor:"1,keyasint"`
	ID        *int64 `json:"id,omitempty" cbor:"2,keyasint,omitempty"`
	Error     string `json:"error,omitempty" cbor:"3,keyasint,omitempty"`
}

// Success returns a successful Result carrying id.
func Success(id int64) Result {
	return Result{Succeeded: true, ID: &id}
}

// Failure returns a failed Result. An empty message is replaced so that a
// failure always carries text.
func Failure(msg string) Result {
	if msg == "" {
		msg = "unknown error"
	}
	return Result{Error: msg}
}

// Identifier returns the ID and whether one is present.
func (r Result) Identifier() (int64, bool) {
	if r.ID == nil {
		return 0, false
	}
	return *r.ID, true
}

func (r Result) String() string {
	if r.Succeeded {
		if r.ID != nil {
			return fmt.Sprintf("ok id=%d", *r.ID)
		}
		return "ok"
	}
	return "error: " + r.Error
}

// Valid reports whether r satisfies the success/error invariant.
func (r Result) Valid() bool {
	if r.Succeeded {
		return r.Error == ""
	}
	return r.Error != "" && r.ID == nil
}

// Encode serializes r as deterministic CBOR.
func (r Result) Encode() ([]byte, error) {
	return codec.Marshal(r)
}

// DecodeResult parses a CBOR-encoded Result and rejects envelopes that break
// the success/error invariant.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	if err := codec.Unmarshal(data, &r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	if !r.Valid() {
		return Result{}, fmt.Errorf("decode result: inconsistent envelope %+v", r)
	}
	return r, nil
}

// UserList is the outcome of a user search. IDs is never nil, and a failed
// search is distinguishable from an empty one through Result.
type UserList struct {
	Result Result  `json:"result" cbor:"1,keyasint"`
	IDs    []int64 `json:"ids" cbor:"2,keyasint"`
}

// Probe is an echo payload used to check marshalling across the boundary.
type Probe struct {
	Flag    bool    `json:"flag" cbor:"1,keyasint"`
	Number  int64   `json:"number" cbor:"2,keyasint"`
	Text    string  `json:"text" cbor:"3,keyasint"`
	Numbers []int64 `json:"numbers" cbor:"4,keyasint"`
}
