package container

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/agentsnap/persist-core/pkg/metadata"
	"github.com/agentsnap/persist-core/pkg/persisterr"
)

func buildMetadata(t *testing.T) metadata.Metadata {
	t.Helper()
	m, err := metadata.New("agent_1", "session_1", 0)
	if err != nil {
		t.Fatalf("metadata.New() error = %v", err)
	}
	return m.WithHash([]byte(`{"k":"v"}`))
}

func TestSerializeParseRoundTrip(t *testing.T) {
	c := Container{Metadata: buildMetadata(t), AgentState: json.RawMessage(`{"k":"v"}`)}

	data, err := Serialize(c)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if got.Metadata != c.Metadata {
		t.Errorf("metadata mismatch: got %+v, want %+v", got.Metadata, c.Metadata)
	}
	if string(got.AgentState) != string(c.AgentState) {
		t.Errorf("agent_state mismatch: got %s, want %s", got.AgentState, c.AgentState)
	}
}

func TestSerialize_KeyOrder(t *testing.T) {
	c := Container{Metadata: buildMetadata(t), AgentState: json.RawMessage(`{}`)}
	data, err := Serialize(c)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	metaIdx := strings.Index(string(data), `"metadata"`)
	stateIdx := strings.Index(string(data), `"agent_state"`)
	if metaIdx < 0 || stateIdx < 0 || metaIdx > stateIdx {
		t.Errorf("expected metadata before agent_state in %s", data)
	}
}

func TestParse_MissingMetadata(t *testing.T) {
	_, err := Parse([]byte(`{"agent_state":{}}`))
	if err == nil {
		t.Fatal("Parse() with missing metadata should fail")
	}
	if kind, _ := persisterr.KindOf(err); kind != persisterr.Validation {
		t.Errorf("kind = %v, want %v", kind, persisterr.Validation)
	}
}

func TestParse_MissingAgentState(t *testing.T) {
	m := buildMetadata(t)
	mdJSON, _ := json.Marshal(m)
	doc := `{"metadata":` + string(mdJSON) + `}`

	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("Parse() with missing agent_state should fail")
	}
	if kind, _ := persisterr.KindOf(err); kind != persisterr.Validation {
		t.Errorf("kind = %v, want %v", kind, persisterr.Validation)
	}
}

func TestParse_UnknownFormatVersion(t *testing.T) {
	m := buildMetadata(t)
	m.FormatVersion = 99
	mdJSON, _ := json.Marshal(m)
	doc := `{"metadata":` + string(mdJSON) + `,"agent_state":{}}`

	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("Parse() with an unrecognized format_version should fail")
	}
	if kind, _ := persisterr.KindOf(err); kind != persisterr.Validation {
		t.Errorf("kind = %v, want %v", kind, persisterr.Validation)
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	if err == nil {
		t.Fatal("Parse() with malformed JSON should fail")
	}
	if kind, _ := persisterr.KindOf(err); kind != persisterr.Serialization {
		t.Errorf("kind = %v, want %v", kind, persisterr.Serialization)
	}
}
