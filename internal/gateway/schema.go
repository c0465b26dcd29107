package gateway

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Inbound agent-runtime params are schema-checked before they reach the
// bridge; the desktop methods decode into typed structs instead.
const (
	agentEventSchema = `{
		"type": "object",
		"required": ["sessionKey", "stream"],
		"properties": {
			"sessionKey": {"type": "string", "minLength": 1},
			"stream": {"type": "string", "minLength": 1},
			"event": {"type": "string"},
			"data": {"type": "object"}
		}
	}`
	runStartedSchema = `{
		"type": "object",
		"required": ["sessionKey"],
		"properties": {
			"sessionKey": {"type": "string", "minLength": 1}
		}
	}`
	runEndedSchema = `{
		"type": "object",
		"required": ["sessionKey", "success"],
		"properties": {
			"sessionKey": {"type": "string", "minLength": 1},
			"success": {"type": "boolean"},
			"error": {"type": "string"}
		}
	}`
)

var paramSchemas = map[string]*jsonschema.Schema{
	"agent.event":       mustCompile("agent.event.json", agentEventSchema),
	"agent.run.started": mustCompile("agent.run.started.json", runStartedSchema),
	"agent.run.ended":   mustCompile("agent.run.ended.json", runEndedSchema),
}

func mustCompile(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("gateway: schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("gateway: schema %s: %v", name, err))
	}
	schema, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("gateway: schema %s: %v", name, err))
	}
	return schema
}

// validateParams checks raw against the schema registered for method.
func validateParams(method string, raw []byte) error {
	schema, ok := paramSchemas[method]
	if !ok {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return invalidParams("params required")
	}
	// UnmarshalJSON keeps numbers as json.Number, which the validator needs.
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &rpcError{Code: ErrCodeParse, Message: "invalid params JSON"}
	}
	if err := schema.Validate(doc); err != nil {
		return invalidParams(fmt.Sprintf("params failed schema: %v", err))
	}
	return nil
}
