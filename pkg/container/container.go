// Package container defines the on-wire framing of one artifact: a JSON
// object carrying the snapshot metadata and the opaque agent_state payload.
package container

import (
	"encoding/json"

	"github.com/agentsnap/persist-core/pkg/metadata"
	"github.com/agentsnap/persist-core/pkg/persisterr"
)

// Container is {metadata, agent_state} as a single JSON document. Field
// declaration order here is what encoding/json uses on the wire, giving
// byte-identical containers for byte-identical inputs: metadata first,
// agent_state second, per §6.
type Container struct {
	Metadata   metadata.Metadata `json:"metadata"`
	AgentState json.RawMessage   `json:"agent_state"`
}

// Serialize encodes c to its on-wire JSON form.
func Serialize(c Container) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, persisterr.Wrap(persisterr.Serialization, err, "encode artifact container")
	}
	return data, nil
}

// Parse decodes raw into a Container, rejecting documents missing either
// top-level key or carrying a format_version this reader does not
// recognize.
func Parse(raw []byte) (Container, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Container{}, persisterr.Wrap(persisterr.Serialization, err, "decode artifact container")
	}

	if _, ok := fields["metadata"]; !ok {
		return Container{}, persisterr.New(persisterr.Validation, "artifact container missing \"metadata\"")
	}
	agentState, ok := fields["agent_state"]
	if !ok {
		return Container{}, persisterr.New(persisterr.Validation, "artifact container missing \"agent_state\"")
	}

	var md metadata.Metadata
	if err := json.Unmarshal(fields["metadata"], &md); err != nil {
		return Container{}, persisterr.Wrap(persisterr.Serialization, err, "decode artifact metadata")
	}
	if !md.IsCompatible() {
		return Container{}, persisterr.New(persisterr.Validation,
			"unrecognized format_version %d (reader supports %d)", md.FormatVersion, metadata.FormatVersion)
	}

	return Container{Metadata: md, AgentState: agentState}, nil
}
