package schema

import (
	"encoding/xml"
	"sort"
	"strconv"

	"github.com/anguspalmer/servicenow/internal/apperr"
)

// xmlDocument mirrors the SCHEMA endpoint's response shape: a root element
// named after the table, containing repeated <element> children (spec §6
// "GET /{tableName}.do?SCHEMA ... root element named after the table, child
// <element name=... internal_type=... max_length=.../>"). encoding/xml is
// the only XML parser anywhere in the example corpus touches; no pack repo
// ships a purpose-built XML library, so the stdlib decoder is the
// idiomatic, and only, choice here.
type xmlDocument struct {
	XMLName  xml.Name      `xml:""`
	Elements []xmlElement  `xml:"element"`
}

type xmlElement struct {
	Name           string `xml:"name,attr"`
	InternalType   string `xml:"internal_type,attr"`
	MaxLength      string `xml:"max_length,attr"`
	ReferenceTable string `xml:"reference_table,attr"`
	ChoiceList     string `xml:"choice_list,attr"`
}

// Parse decodes a SCHEMA endpoint XML document into a Table. It returns a
// SchemaError (spec §7) when the document has no element array, or any
// element lacks a name or type.
func Parse(tableName string, body []byte) (*Table, error) {
	var doc xmlDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, apperr.Schemaf("malformed schema document", "table", tableName, "cause", err.Error())
	}
	if len(doc.Elements) == 0 {
		return nil, apperr.Schemaf("schema document has no element array", "table", tableName)
	}

	t := &Table{
		Name:    tableName,
		Columns: make(map[string]Column, len(doc.Elements)),
	}
	for _, el := range doc.Elements {
		if el.Name == "" || el.InternalType == "" {
			return nil, apperr.Schemaf("column missing name or type", "table", tableName, "element", el.Name)
		}
		maxLen := 0
		if el.MaxLength != "" {
			if n, err := strconv.Atoi(el.MaxLength); err == nil {
				maxLen = n
			}
		}
		col := Column{
			Name:           el.Name,
			Type:           el.InternalType,
			MaxLength:      maxLen,
			ReferenceTable: el.ReferenceTable,
			IsChoiceList:   el.ChoiceList == "true",
		}
		if _, dup := t.Columns[el.Name]; !dup {
			t.Order = append(t.Order, el.Name)
		}
		t.Columns[el.Name] = col
	}
	sort.Strings(t.Order)
	return t, nil
}
