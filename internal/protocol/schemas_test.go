package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	noticeSchema := compile("notice.schema.json")
	eventSchema := compile("event.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "actor_id":"steve"
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "actor_id":"steve"
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var notice any
	_ = json.Unmarshal([]byte(`{
	  "type":"NOTICE",
	  "actor":"steve",
	  "text":"Contract expires in 5m!",
	  "at":"2026-01-02T15:04:05Z"
	}`), &notice)
	validate(noticeSchema, notice)

	var event any
	_ = json.Unmarshal([]byte(`{
	  "type":"EVENT",
	  "event":{
	    "contract_id":"c-1",
	    "type":"CONTRACT_ACCEPTED",
	    "actor":"steve",
	    "state":"ACCEPTED",
	    "bounty":125.5,
	    "at":"2026-01-02T15:04:05Z"
	  }
	}`), &event)
	validate(eventSchema, event)
}

func TestSchemas_RejectUnknownState(t *testing.T) {
	p := filepath.Join("..", "..", "schemas", "event.schema.json")
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var event any
	_ = json.Unmarshal([]byte(`{
	  "type":"EVENT",
	  "event":{
	    "contract_id":"c-1",
	    "type":"CONTRACT_ACCEPTED",
	    "state":"TELEPORTED",
	    "bounty":1,
	    "at":"2026-01-02T15:04:05Z"
	  }
	}`), &event)
	if err := s.Validate(event); err == nil {
		t.Fatalf("expected unknown state to fail validation")
	}
}
