package snapshot

import (
	"encoding/json"

	"github.com/agentsnap/persist-core/pkg/persisterr"
)

// canonicalizeAgentState parses raw as JSON and re-serializes it so the
// content hash is computed over a normalized byte sequence rather than
// whatever whitespace or key order the caller happened to use. Object keys
// come out sorted and numbers/strings are re-emitted by encoding/json. It
// also doubles as the well-formed-JSON validation a save or load must
// perform before hashing.
func canonicalizeAgentState(raw []byte) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, persisterr.Wrap(persisterr.Serialization, err, "parse agent_state JSON")
	}
	normalized, err := json.Marshal(v)
	if err != nil {
		return nil, persisterr.Wrap(persisterr.Serialization, err, "normalize agent_state JSON")
	}
	return json.RawMessage(normalized), nil
}

// gzipMagic is the two-byte header every gzip stream starts with. A
// container that wasn't compressed (compression_algorithm "none") starts
// with '{' instead, so sniffing these bytes lets Load pick the correct
// inverse codec without having to trust a side channel ahead of
// decompression, per §4.2's "reader selects the correct inverse."
var gzipMagic = [2]byte{0x1f, 0x8b}

func looksLikeGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == gzipMagic[0] && data[1] == gzipMagic[1]
}
