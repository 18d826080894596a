package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/msaeedsaeedi/jobcap/internal/config/schema"
)

var (
	schemaOnce     sync.Once
	profilesSchema *jsonschema.Schema
	schemaErr      error
)

func loadProfilesSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("profiles.v1.json", bytes.NewReader(schema.ProfilesV1)); err != nil {
			schemaErr = fmt.Errorf("add profiles schema resource: %w", err)
			return
		}
		profilesSchema, schemaErr = compiler.Compile("profiles.v1.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile profiles schema: %w", schemaErr)
		}
	})
	return profilesSchema, schemaErr
}

// validateAgainstSchema checks the normalized JSON form of a profile file.
func validateAgainstSchema(data []byte) error {
	s, err := loadProfilesSchema()
	if err != nil {
		return err
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return fmt.Errorf("prepare profiles for schema validation: %w", err)
	}

	if err := s.Validate(doc); err != nil {
		if vErr, ok := err.(*jsonschema.ValidationError); ok {
			return fmt.Errorf("schema validation failed:\n%s", formatValidationError(vErr))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func formatValidationError(err *jsonschema.ValidationError) string {
	var b strings.Builder
	writeValidationError(&b, err, 0)
	return strings.TrimRight(b.String(), "\n")
}

func writeValidationError(b *strings.Builder, err *jsonschema.ValidationError, depth int) {
	// Wrapper errors only repeat their causes.
	show := len(err.Causes) == 0 || !strings.HasPrefix(err.Message, "doesn't validate with")
	if show {
		fmt.Fprintf(b, "%s- %s: %s\n", strings.Repeat("  ", depth), instancePath(err.InstanceLocation), err.Message)
		depth++
	}
	for _, cause := range err.Causes {
		writeValidationError(b, cause, depth)
	}
}

// instancePath turns a JSON pointer into profiles.name.env style.
func instancePath(ptr string) string {
	segments := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	var b strings.Builder
	for _, segment := range segments {
		if segment == "" {
			continue
		}
		decoded := strings.ReplaceAll(strings.ReplaceAll(segment, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(decoded); err == nil {
			fmt.Fprintf(&b, "[%s]", decoded)
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(decoded)
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}
