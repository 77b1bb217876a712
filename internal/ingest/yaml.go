package ingest

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// document is the YAML/JSON import shape. Either a bare list of records or
// an object with an evidence list is accepted.
type document struct {
	Evidence []raw `yaml:"evidence"`
}

// ReadYAML parses evidence records from YAML. JSON is valid YAML, so JSON
// files go through the same decoder.
func ReadYAML(r io.Reader, opts Options) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "yaml: read")
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, eris.Wrap(err, "yaml: parse")
	}
	if len(node.Content) == 0 {
		return &Result{}, nil
	}

	var records []raw
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&records); err != nil {
			return nil, eris.Wrap(err, "yaml: decode evidence list")
		}
	case yaml.MappingNode:
		var doc document
		if err := root.Decode(&doc); err != nil {
			return nil, eris.Wrap(err, "yaml: decode evidence document")
		}
		records = doc.Evidence
	default:
		return nil, eris.New("yaml: expected a list of evidence or an evidence key")
	}

	res := &Result{}
	for i, rec := range records {
		e, err := rec.tuple(opts)
		if err != nil {
			res.Rejected = append(res.Rejected, RowError{Row: i + 1, Err: err})
			continue
		}
		res.Evidence = append(res.Evidence, e)
	}
	return res, nil
}
