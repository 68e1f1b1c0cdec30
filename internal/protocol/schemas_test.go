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
	intentSchema := compile("intent.schema.json")
	poseSchema := compile("pose.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "name":"walker1",
	  "rig_id":"quadruped"
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "walker_id":"W000001",
	  "world_params":{"tick_rate_hz":30,"seed":1337},
	  "rig":{"id":"quadruped","digest":"deadbeef","bones":13,"legs":4},
	  "tuning_digest":"deadbeef"
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var intent any
	_ = json.Unmarshal([]byte(`{
	  "type":"INTENT",
	  "protocol_version":"1.0",
	  "move_x":0.0,
	  "move_z":1.0,
	  "turn":-0.25,
	  "run":true
	}`), &intent)
	validate(intentSchema, intent)

	var pose any
	_ = json.Unmarshal([]byte(`{
	  "type":"POSE",
	  "protocol_version":"1.0",
	  "tick":42,
	  "walkers":[{
	    "id":"W000001",
	    "rig_id":"quadruped",
	    "body":{"pos":[0,0.9,0],"rot":[1,0,0,0],"yaw":0,"linear_speed":0,"angular_speed":0},
	    "bones":[{"name":"hip_fl","rot":[1,0,0,0]}],
	    "legs":[{"id":"FL","group":0,"planted":[0.4,0,0.6],"target":[0.4,0,0.6],"progress":0,"stepping":false}]
	  }],
	  "footsteps":[{"walker_id":"W000001","leg":"FL","pos":[0.4,0,0.8],"stride_len":0.35,"ticks":9}]
	}`), &pose)
	validate(poseSchema, pose)
}
