// Package xmlprop is the default internal/collab.XMLParser: a thin
// streaming adapter over encoding/xml that replays token events as the
// start/end/character-data callbacks the GENA engine's property-set
// parser expects.
package xmlprop

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/coachpo/genacp/internal/collab"
	"github.com/coachpo/genacp/internal/errs"
)

// Parser is the default collab.XMLParser.
type Parser struct{}

// New constructs a Parser.
func New() *Parser { return &Parser{} }

// Parse decodes body as XML, invoking h's callbacks for each element and
// character-data run encountered.
func (Parser) Parse(body []byte, h collab.XMLHandler) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var stack []string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.New("xmlprop", errs.CodeInvalid, errs.WithCause(err), errs.WithMessage("malformed xml"))
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			path := append([]string(nil), stack...)
			h.OnStartElement(name, path)
			stack = append(stack, name)
		case xml.EndElement:
			name := t.Name.Local
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			path := append([]string(nil), stack...)
			h.OnEndElement(name, path)
		case xml.CharData:
			h.OnCharacterData([]byte(t))
		}
	}
}
