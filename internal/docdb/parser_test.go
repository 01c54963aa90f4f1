package docdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleItem struct {
	Title string `json:"title" yaml:"title" toml:"title"`
	Start int64  `json:"start" yaml:"start" toml:"start"`
	End   *int64 `json:"end,omitempty" yaml:"end,omitempty" toml:"end,omitempty"`
}

type sampleDoc struct {
	Name  string                `json:"name" yaml:"name" toml:"name"`
	Tags  []string              `json:"tags" yaml:"tags" toml:"tags"`
	Items map[string]sampleItem `json:"items" yaml:"items" toml:"items"`
}

func newSampleDoc() sampleDoc {
	end := int64(1_700_000_100_000)
	return sampleDoc{
		Name: "daily",
		Tags: []string{"b", "a", "b"},
		Items: map[string]sampleItem{
			"01HF0000000000000000000002": {Title: "second", Start: 1_700_000_200_000},
			"01HF0000000000000000000001": {Title: "first", Start: 1_700_000_000_000, End: &end},
		},
	}
}

func TestParserRoundTrip(t *testing.T) {
	for _, format := range Formats {
		t.Run(format, func(t *testing.T) {
			p, err := ParserFor(format)
			require.NoError(t, err)

			doc := newSampleDoc()
			data, err := p.Marshal(doc)
			require.NoError(t, err)

			var parsed sampleDoc
			require.NoError(t, p.Unmarshal(data, &parsed))
			assert.Equal(t, doc, parsed)

			again, err := p.Marshal(parsed)
			require.NoError(t, err)
			assert.Equal(t, string(data), string(again), "serialize(parse(bytes)) must equal bytes")
		})
	}
}

func TestParserDeterministic(t *testing.T) {
	for _, format := range Formats {
		p, err := ParserFor(format)
		require.NoError(t, err)

		first, err := p.Marshal(newSampleDoc())
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			next, err := p.Marshal(newSampleDoc())
			require.NoError(t, err)
			require.Equal(t, string(first), string(next), format)
		}
	}
}

func TestParserExtensions(t *testing.T) {
	assert.Equal(t, ".json", JSONParser{}.Extension())
	assert.Equal(t, ".yaml", YAMLParser{}.Extension())
	assert.Equal(t, ".toml", TOMLParser{}.Extension())
}

func TestJSONParserLayout(t *testing.T) {
	data, err := JSONParser{}.Marshal(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1,\n  \"b\": 2\n}\n", string(data))
}

func TestParserForUnknown(t *testing.T) {
	_, err := ParserFor("xml")
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	p, err := ParserFor("")
	require.NoError(t, err)
	assert.Equal(t, JSONParser{}, p)

	p, err = ParserFor("YML")
	require.NoError(t, err)
	assert.Equal(t, YAMLParser{}, p)
}

func TestParserRejectsGarbage(t *testing.T) {
	for _, format := range Formats {
		p, err := ParserFor(format)
		require.NoError(t, err)

		var doc sampleDoc
		assert.Error(t, p.Unmarshal([]byte("{{{ not [ a document"), &doc), format)
		assert.False(t, wellFormed(p, []byte("{{{ not [ a document")), format)
	}
}

type checkedDoc struct {
	Items map[string]int `json:"items" yaml:"items" toml:"items"`
}

func (d *checkedDoc) Validate() error {
	if d.Items == nil {
		return errors.New("items is required")
	}
	return nil
}

func TestParserRejectsMismatchedDocuments(t *testing.T) {
	cases := map[string][]string{
		FormatJSON: {"", "null", "  null\n", `{"name": "daily", "tilte": "x"}`, `{"name": "a"} {"name": "b"}`},
		FormatYAML: {"", "null\n", "~\n", "name: daily\ntilte: x\n"},
		FormatTOML: {"name = \"daily\"\ntilte = \"x\"\n", "[items.one]\ntitle = \"a\"\nstrat = 1\n"},
	}
	for format, inputs := range cases {
		p, err := ParserFor(format)
		require.NoError(t, err)
		for _, in := range inputs {
			var doc sampleDoc
			assert.Error(t, p.Unmarshal([]byte(in), &doc), "%s: %q", format, in)
		}
	}
}

func TestDecodeRunsValidator(t *testing.T) {
	for _, format := range Formats {
		p, err := ParserFor(format)
		require.NoError(t, err)

		data, err := p.Marshal(map[string]any{"items": map[string]int{"a": 1}})
		require.NoError(t, err)
		var doc checkedDoc
		require.NoError(t, Decode(p, data, &doc), format)
		assert.Equal(t, 1, doc.Items["a"])

		// Well formed, but the required field is absent
		data, err = p.Marshal(map[string]any{})
		require.NoError(t, err)
		doc = checkedDoc{}
		assert.EqualError(t, Decode(p, data, &doc), "items is required", format)
	}
}
