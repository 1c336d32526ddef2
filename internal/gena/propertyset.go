package gena

import (
	"strings"

	"github.com/coachpo/genacp/internal/collab"
)

// parsePropertySet extracts the changed-variable mapping from a NOTIFY
// body per spec.md §4.5.1: every element whose immediate parent is
// named "property" (case-insensitive local name match) contributes one
// entry, keyed by its own local name, whose value is the trimmed
// concatenation of all character data under it (including any further
// descendants). Duplicate keys within one document: last-writer-wins.
func parsePropertySet(body []byte, parser collab.XMLParser) (map[string]string, error) {
	h := &propertySetHandler{out: make(map[string]string)}
	if err := parser.Parse(body, h); err != nil {
		return nil, err
	}
	return h.out, nil
}

type propertySetHandler struct {
	out map[string]string

	// depth of the element currently accumulating character data, and
	// its key; 0 means "not inside a property child".
	activeKey   string
	activeDepth int
	buf         strings.Builder
}

func (h *propertySetHandler) OnStartElement(name string, path []string) {
	if h.activeKey != "" {
		return // already inside a property child; nested elements just contribute character data
	}
	if len(path) > 0 && strings.EqualFold(path[len(path)-1], "property") {
		h.activeKey = name
		h.activeDepth = len(path) + 1
		h.buf.Reset()
	}
}

func (h *propertySetHandler) OnEndElement(name string, path []string) {
	if h.activeKey == "" {
		return
	}
	if len(path)+1 != h.activeDepth {
		return // closing a descendant of the active property child, not the child itself
	}
	h.out[h.activeKey] = strings.Trim(h.buf.String(), " \t\n\r")
	h.activeKey = ""
	h.activeDepth = 0
}

func (h *propertySetHandler) OnCharacterData(data []byte) {
	if h.activeKey == "" {
		return
	}
	h.buf.Write(data)
}
