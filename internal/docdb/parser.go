package docdb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Parser converts documents to and from their on-disk form. Output must be
// deterministic so that unchanged documents produce unchanged files.
type Parser interface {
	// Extension is the file suffix, including the dot.
	Extension() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Validator is implemented by documents that check their own content once
// decoded. A document failing the check is corrupted.
type Validator interface {
	Validate() error
}

// Decode parses data into v and validates v when it is a Validator.
// Parsers reject unknown keys and empty bodies, so a document of the wrong
// shape fails here instead of decoding to a zero value.
func Decode(p Parser, data []byte, v any) error {
	if err := p.Unmarshal(data, v); err != nil {
		return err
	}
	if d, ok := v.(Validator); ok {
		return d.Validate()
	}
	return nil
}

var (
	errEmptyDocument = errors.New("document is empty")
	errTrailingData  = errors.New("unexpected data after document")
)

// Supported formats for ParserFor.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// Formats lists every supported format.
var Formats = []string{FormatJSON, FormatYAML, FormatTOML}

// ParserFor returns the parser for format.
func ParserFor(format string) (Parser, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return JSONParser{}, nil
	case FormatYAML, "yml":
		return YAMLParser{}, nil
	case FormatTOML:
		return TOMLParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// JSONParser writes two-space indented JSON with a trailing newline.
type JSONParser struct{}

func (JSONParser) Extension() string { return ".json" }

func (JSONParser) Marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (JSONParser) Unmarshal(data []byte, v any) error {
	body := bytes.TrimSpace(data)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return errEmptyDocument
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}

// YAMLParser writes YAML documents.
type YAMLParser struct{}

func (YAMLParser) Extension() string { return ".yaml" }

func (YAMLParser) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (YAMLParser) Unmarshal(data []byte, v any) error {
	var body any
	if err := yaml.Unmarshal(data, &body); err != nil {
		return err
	}
	if body == nil {
		return errEmptyDocument
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// TOMLParser writes TOML documents.
type TOMLParser struct{}

func (TOMLParser) Extension() string { return ".toml" }

func (TOMLParser) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (TOMLParser) Unmarshal(data []byte, v any) error {
	md, err := toml.Decode(string(data), v)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys %v", undecoded)
	}
	return nil
}

// wellFormed reports whether data parses as a document at all.
func wellFormed(p Parser, data []byte) bool {
	var doc map[string]any
	return p.Unmarshal(data, &doc) == nil
}
