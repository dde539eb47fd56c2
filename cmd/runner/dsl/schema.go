package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates JSON values against inline or external JSON Schemas.
// Compiled schemas are cached: external ones by URI, inline ones by the
// Schema value they came from.
type Validator struct {
	mu       sync.Mutex
	byURI    map[string]*jsonschema.Schema
	byInline map[*Schema]*jsonschema.Schema
	client   *http.Client
}

// NewValidator creates an empty validator
func NewValidator() *Validator {
	return &Validator{
		byURI:    make(map[string]*jsonschema.Schema),
		byInline: make(map[*Schema]*jsonschema.Schema),
		client:   http.DefaultClient,
	}
}

// Validate checks value against schema; a failure carries the concatenated
// violation list
func (v *Validator) Validate(value any, schema *Schema) *Error {
	if schema == nil {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return NewValidationError(err.Error())
	}

	if err := compiled.Validate(normalizeJSON(value)); err != nil {
		var verr *jsonschema.ValidationError
		if ok := asValidationError(err, &verr); ok {
			return NewValidationError(strings.Join(flattenViolations(verr), "; "))
		}
		return NewValidationError(err.Error())
	}

	return nil
}

func (v *Validator) compile(schema *Schema) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if schema.Resource != nil {
		uri := schema.Resource.URI
		if compiled, ok := v.byURI[uri]; ok {
			return compiled, nil
		}
		compiled, err := v.compileExternal(uri)
		if err != nil {
			return nil, err
		}
		v.byURI[uri] = compiled
		return compiled, nil
	}

	if compiled, ok := v.byInline[schema]; ok {
		return compiled, nil
	}

	doc, err := toSchemaDoc(schema.Document)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("inline://schema.json", doc); err != nil {
		return nil, fmt.Errorf("add inline schema: %w", err)
	}
	compiled, err := compiler.Compile("inline://schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile inline schema: %w", err)
	}

	v.byInline[schema] = compiled
	return compiled, nil
}

func (v *Validator) compileExternal(uri string) (*jsonschema.Schema, error) {
	resp, err := v.client.Get(uri)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load schema %s: status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", uri, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", uri, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(uri, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", uri, err)
	}
	compiled, err := compiler.Compile(uri)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", uri, err)
	}

	return compiled, nil
}

// toSchemaDoc converts a YAML-decoded schema document into the JSON shape
// the compiler expects
func toSchemaDoc(document any) (any, error) {
	if document == nil {
		return nil, fmt.Errorf("schema has neither document nor resource")
	}
	raw, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("encode schema document: %w", err)
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

// normalizeJSON round-trips a value into JSON-native types
func normalizeJSON(value any) any {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return value
	}
	return out
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	verr, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = verr
	}
	return ok
}

// flattenViolations collects leaf violation messages
func flattenViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{verr.Error()}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, flattenViolations(cause)...)
	}
	return out
}
