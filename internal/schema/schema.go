// Package schema is the structural gate in front of the ingestion pipeline.
// Vendor payloads are checked against a per-source envelope before they reach
// a normalizer, and canonical events against the telemetry wire schema
// before they reach the store.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gyaneshwarpardhi/vitalsync/internal/event"
)

var (
	// ErrInvalid is wrapped by every validation failure.
	ErrInvalid = errors.New("schema validation failed")
	// ErrNoSchema is returned for a source with no registered envelope.
	ErrNoSchema = errors.New("no schema for source")
)

//go:embed schemas/*.json
var files embed.FS

const (
	baseURL         = "mem://vitalsync/schemas/"
	telemetrySchema = "telemetry.schema.json"
)

var envelopeFiles = map[event.Source]string{
	event.SourceFitbit:        "fitbit.schema.json",
	event.SourceGarmin:        "garmin.schema.json",
	event.SourceOura:          "oura.schema.json",
	event.SourceWithings:      "withings.schema.json",
	event.SourceBLE:           "ble.schema.json",
	event.SourceHealthKit:     "health.schema.json",
	event.SourceHealthConnect: "health.schema.json",
}

var printer = message.NewPrinter(language.English)

// Validator holds the compiled schemas. It is safe for concurrent use.
type Validator struct {
	telemetry *jsonschema.Schema
	envelopes map[event.Source]*jsonschema.Schema
}

// New compiles the embedded schemas with format assertions enabled.
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft7)
	c.AssertFormat()

	entries, err := files.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	for _, e := range entries {
		raw, err := files.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", e.Name(), err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(baseURL+e.Name(), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", e.Name(), err)
		}
	}

	v := &Validator{envelopes: make(map[event.Source]*jsonschema.Schema, len(envelopeFiles))}
	if v.telemetry, err = c.Compile(baseURL + telemetrySchema); err != nil {
		return nil, fmt.Errorf("compile %s: %w", telemetrySchema, err)
	}
	for src, name := range envelopeFiles {
		sch, err := c.Compile(baseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.envelopes[src] = sch
	}
	return v, nil
}

// ValidatePayload checks a decoded vendor payload against the envelope of
// source. doc should be decoded with json.Decoder.UseNumber.
func (v *Validator) ValidatePayload(source event.Source, doc any) error {
	sch, ok := v.envelopes[source]
	if !ok {
		return fmt.Errorf("%w %q", ErrNoSchema, source)
	}
	return describe(sch.Validate(doc))
}

// ValidateCanonical checks a decoded canonical event against the telemetry
// schema. A missing "source" is taken to be the delivery source.
func (v *Validator) ValidateCanonical(source event.Source, doc map[string]any) error {
	if _, ok := doc["source"]; !ok {
		withSource := make(map[string]any, len(doc)+1)
		for k, val := range doc {
			withSource[k] = val
		}
		withSource["source"] = string(source)
		doc = withSource
	}
	return describe(v.telemetry.Validate(doc))
}

// ValidateEvent runs the event's own checks, then validates its wire shape.
func (v *Validator) ValidateEvent(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: encode event: %v", ErrInvalid, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: decode event: %v", ErrInvalid, err)
	}
	return describe(v.telemetry.Validate(doc))
}

// describe reduces a validation error tree to its first leaf violation.
func describe(err error) error {
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return fmt.Errorf("%w at %q: %s", ErrInvalid, "/"+strings.Join(ve.InstanceLocation, "/"), ve.ErrorKind.LocalizedString(printer))
}
