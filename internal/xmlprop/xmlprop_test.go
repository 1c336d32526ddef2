package xmlprop

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/genacp/internal/collab"
)

type recordingHandler struct {
	starts [][2]any
	ends   [][2]any
	chars  []string
}

func (h *recordingHandler) OnStartElement(name string, path []string) {
	h.starts = append(h.starts, [2]any{name, append([]string(nil), path...)})
}
func (h *recordingHandler) OnEndElement(name string, path []string) {
	h.ends = append(h.ends, [2]any{name, append([]string(nil), path...)})
}
func (h *recordingHandler) OnCharacterData(data []byte) {
	h.chars = append(h.chars, string(data))
}

func TestParseDeliversStartEndWithAncestorPath(t *testing.T) {
	body := []byte(`<propertyset><property><Foo>bar</Foo></property></propertyset>`)
	h := &recordingHandler{}
	require.NoError(t, New().Parse(body, h))

	require.Len(t, h.starts, 3)
	require.Equal(t, "propertyset", h.starts[0][0])
	require.Empty(t, h.starts[0][1])
	require.Equal(t, "property", h.starts[1][0])
	require.Equal(t, []string{"propertyset"}, h.starts[1][1])
	require.Equal(t, "Foo", h.starts[2][0])
	require.Equal(t, []string{"propertyset", "property"}, h.starts[2][1])

	require.Contains(t, h.chars, "bar")
}

func TestParseMalformedXMLReturnsError(t *testing.T) {
	var h recordingHandler
	err := New().Parse([]byte(`<unclosed>`), &h)
	require.Error(t, err)
}

func TestParseEmptyBodyIsNotAnError(t *testing.T) {
	var h recordingHandler
	require.NoError(t, New().Parse(nil, &h))
	require.Empty(t, h.starts)
}

var _ collab.XMLHandler = (*recordingHandler)(nil)
