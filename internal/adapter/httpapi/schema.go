package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kaptinlin/jsonschema"
)

const (
	projectPathProp = `"projectPath": {"type": "string", "minLength": 1}`
	branchProp      = `"branch": {"type": "string"}`
)

var schemaSources = map[string]string{
	"prompt": `{
		"type": "object",
		"required": ["projectPath", "prompt"],
		"properties": {
			` + projectPathProp + `,
			"prompt": {"type": "string", "minLength": 1},
			"context": {"type": "string"},
			"files": {"type": "array", "items": {"type": "string"}},
			"openInCursor": {"type": "boolean"}
		}
	}`,
	"command": `{
		"type": "object",
		"required": ["projectPath", "command"],
		"properties": {
			` + projectPathProp + `,
			"command": {"type": "string", "minLength": 1},
			"args": {"type": "array", "items": {"type": "string"}},
			"workingDirectory": {"type": "string"}
		}
	}`,
	"open": `{
		"type": "object",
		"required": ["projectPath"],
		"properties": {
			` + projectPathProp + `,
			"file": {"type": "string"},
			"line": {"type": "integer", "minimum": 1},
			"column": {"type": "integer", "minimum": 1}
		}
	}`,
	"devserver.start": `{
		"type": "object",
		"required": ["projectPath"],
		"properties": {
			` + projectPathProp + `,
			"command": {"type": "string"},
			"port": {"type": "integer", "minimum": 1, "maximum": 65535},
			"framework": {"type": "string"}
		}
	}`,
	"devserver.stop": `{
		"type": "object",
		"properties": {
			"projectPath": {"type": "string"},
			"serverId": {"type": "string"}
		}
	}`,
	"port.check": `{
		"type": "object",
		"required": ["port"],
		"properties": {
			"port": {"type": "integer", "minimum": 1, "maximum": 65535},
			"host": {"type": "string"}
		}
	}`,
	"file.write": `{
		"type": "object",
		"required": ["projectPath", "filePath", "content"],
		"properties": {
			` + projectPathProp + `,
			"filePath": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		}
	}`,
	"file.mkdir": `{
		"type": "object",
		"required": ["projectPath", "dirPath"],
		"properties": {
			` + projectPathProp + `,
			"dirPath": {"type": "string", "minLength": 1}
		}
	}`,
	"git.commit": `{
		"type": "object",
		"required": ["projectPath", "message"],
		"properties": {
			` + projectPathProp + `,
			"message": {"type": "string", "minLength": 1},
			"files": {"type": "array", "items": {"type": "string"}},
			"all": {"type": "boolean"}
		}
	}`,
	"git.branch": `{
		"type": "object",
		"required": ["projectPath", "branch"],
		"properties": {
			` + projectPathProp + `,
			"branch": {"type": "string", "minLength": 1}
		}
	}`,
	"git.remote": `{
		"type": "object",
		"required": ["projectPath"],
		"properties": {
			` + projectPathProp + `,
			"remote": {"type": "string"},
			` + branchProp + `
		}
	}`,
	"project": `{
		"type": "object",
		"required": ["projectPath"],
		"properties": {
			` + projectPathProp + `
		}
	}`,
}

// schemas holds the compiled request body schemas.
type schemas map[string]*jsonschema.Schema

func compileSchemas() (schemas, error) {
	compiler := jsonschema.NewCompiler()
	out := make(schemas, len(schemaSources))
	for name, src := range schemaSources {
		s, err := compiler.Compile([]byte(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

// decode reads the request body, validates it against the named schema,
// and unmarshals it into dst.
func (a *api) decode(r *http.Request, name string, dst any) error {
	data, err := readBody(r, a.maxBody)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return invalid("malformed JSON body")
	}
	if s, ok := a.schemas[name]; ok {
		result := s.Validate(doc)
		if !result.IsValid() {
			return invalid(fmt.Sprintf("%s", result.Error()))
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return invalid("invalid body: " + err.Error())
	}
	return nil
}
