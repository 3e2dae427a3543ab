package catalog

import (
	"embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/*.json
var schemaFS embed.FS

type validator struct {
	schema *gojsonschema.Schema
}

type schemas struct {
	index  validator
	lesson validator
}

func loadSchemas() (*schemas, error) {
	index, err := compileSchema("schema/index.schema.json")
	if err != nil {
		return nil, err
	}
	lesson, err := compileSchema("schema/lesson.schema.json")
	if err != nil {
		return nil, err
	}
	return &schemas{index: index, lesson: lesson}, nil
}

func compileSchema(name string) (validator, error) {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		return validator{}, fmt.Errorf("reading schema %s: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return validator{}, fmt.Errorf("compiling schema %s: %w", name, err)
	}
	return validator{schema: s}, nil
}

// validate returns one message per schema violation of doc.
func (v validator) validate(doc any) ([]string, error) {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return problems, nil
}
