// Package descriptoryaml decodes the YAML form of a table descriptor that
// the CLI and the admin/MCP surface both accept as input to a table sync:
// a human-editable file shape for the same descriptor.Table/Column values
// the reconcilers operate on in memory.
package descriptoryaml

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/anguspalmer/servicenow/internal/descriptor"
)

type columnDoc struct {
	Name           string            `yaml:"name"`
	Label          string            `yaml:"label"`
	Type           string            `yaml:"type"`
	MaxLength      int               `yaml:"max_length"`
	ReferenceTable string            `yaml:"reference_table"`
	ChoiceMap      map[string]string `yaml:"choices"`
	ChoiceMode     string            `yaml:"choice_mode"`
	DataPolicy     string            `yaml:"data_policy"`
	Syncback       bool              `yaml:"syncback"`
}

type tableDoc struct {
	Name         string      `yaml:"name"`
	Label        string      `yaml:"label"`
	Parent       string      `yaml:"parent"`
	IsExtendable bool        `yaml:"is_extendable"`
	Columns      []columnDoc `yaml:"columns"`
}

// Decode parses raw YAML bytes into a desired descriptor.Table.
func Decode(raw []byte) (*descriptor.Table, error) {
	var doc tableDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode table descriptor: %w", err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("decode table descriptor: name is required")
	}

	tbl := &descriptor.Table{
		Name:         doc.Name,
		Label:        doc.Label,
		Parent:       doc.Parent,
		IsExtendable: doc.IsExtendable,
		Columns:      make(map[string]descriptor.Column),
	}
	for _, c := range doc.Columns {
		tbl.Set(descriptor.Column{
			Name:           c.Name,
			Label:          c.Label,
			Type:           c.Type,
			MaxLength:      c.MaxLength,
			ReferenceTable: c.ReferenceTable,
			ChoiceMap:      c.ChoiceMap,
			ChoiceMode:     descriptor.ChoiceMode(orDefault(c.ChoiceMode, string(descriptor.ChoiceOff))),
			DataPolicy:     descriptor.DataPolicy(c.DataPolicy),
			Syncback:       c.Syncback,
		})
	}
	return tbl, nil
}

// Encode renders a descriptor.Table back to its YAML form, used by the CLI's
// "get-table" command to print what it fetched.
func Encode(tbl *descriptor.Table) ([]byte, error) {
	doc := tableDoc{
		Name:         tbl.Name,
		Label:        tbl.Label,
		Parent:       tbl.Parent,
		IsExtendable: tbl.IsExtendable,
	}
	for _, name := range tbl.Order {
		c := tbl.Columns[name]
		doc.Columns = append(doc.Columns, columnDoc{
			Name:           c.Name,
			Label:          c.Label,
			Type:           c.Type,
			MaxLength:      c.MaxLength,
			ReferenceTable: c.ReferenceTable,
			ChoiceMap:      c.ChoiceMap,
			ChoiceMode:     string(c.ChoiceMode),
			DataPolicy:     string(c.DataPolicy),
			Syncback:       c.Syncback,
		})
	}
	return yaml.Marshal(doc)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
