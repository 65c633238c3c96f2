package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<ClinicalDocument xmlns="urn:hl7-org:v3" xmlns:sdtc="urn:hl7-org:sdtc" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
  <id root="2.16.840.1.113883.19.5" extension="abc" assigningAuthorityName="Good Health"/>
  <code code="34133-9" codeSystem="2.16.840.1.113883.6.1">
    <translation code="T1" codeSystem="1.2.3"/>
    <translation code="T2" codeSystem="1.2.3"/>
  </code>
  <value xsi:type="CD" code="X"/>
  <addr>
    <streetAddressLine>  1 Main St </streetAddressLine>
    <streetAddressLine>Suite 2</streetAddressLine>
  </addr>
  <sdtc:raceCode code="2106-3"/>
  <plain xmlns="">no namespace</plain>
</ClinicalDocument>`

func parseSample(t *testing.T) *Element {
	t.Helper()
	root, err := Parse([]byte(sampleXML), DefaultNamespaces())
	require.NoError(t, err)
	return root
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("should reject malformed input", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]byte("<unclosed"), nil)
		require.Error(t, err)
	})

	t.Run("should reject input without root", func(t *testing.T) {
		t.Parallel()
		root, err := Parse([]byte(`<?xml version="1.0"?>`), nil)
		assert.Error(t, err)
		assert.Nil(t, root)
	})

	t.Run("should default namespace bindings", func(t *testing.T) {
		t.Parallel()
		root, err := Parse([]byte(sampleXML), nil)
		require.NoError(t, err)
		_, ok := root.Find("./v3:id")
		assert.True(t, ok)
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleXML), 0o600))

	root, err := Open(path, DefaultNamespaces())
	require.NoError(t, err)
	assert.Equal(t, "ClinicalDocument", root.Tag())

	_, err = Open(filepath.Join(t.TempDir(), "missing.xml"), nil)
	assert.Error(t, err)
}

func TestElementQueries(t *testing.T) {
	t.Parallel()
	root := parseSample(t)

	t.Run("attribute with default", func(t *testing.T) {
		t.Parallel()
		id, ok := root.Find("./v3:id")
		require.True(t, ok)
		assert.Equal(t, "2.16.840.1.113883.19.5", id.Attr("root", ""))
		assert.Equal(t, "fallback", id.Attr("missing", "fallback"))
	})

	t.Run("prefixed attribute", func(t *testing.T) {
		t.Parallel()
		value, ok := root.Find("./v3:value")
		require.True(t, ok)
		assert.Equal(t, "CD", value.Attr("xsi:type", ""))
	})

	t.Run("multi-step path", func(t *testing.T) {
		t.Parallel()
		translations := root.FindAll("./v3:code/v3:translation")
		require.Len(t, translations, 2)
		assert.Equal(t, "T1", translations[0].Attr("code", ""))
		assert.Equal(t, "T2", translations[1].Attr("code", ""))
	})

	t.Run("text is trimmed", func(t *testing.T) {
		t.Parallel()
		lines := root.FindAll("v3:addr/v3:streetAddressLine")
		require.Len(t, lines, 2)
		assert.Equal(t, "1 Main St", lines[0].Text())
	})

	t.Run("other namespaces resolve through their own prefix", func(t *testing.T) {
		t.Parallel()
		_, ok := root.Find("./sdtc:raceCode")
		assert.True(t, ok)
		_, ok = root.Find("./v3:raceCode")
		assert.False(t, ok)
	})

	t.Run("unprefixed steps only match elements without namespace", func(t *testing.T) {
		t.Parallel()
		_, ok := root.Find("./id")
		assert.False(t, ok)
		plain, ok := root.Find("./plain")
		require.True(t, ok)
		assert.Equal(t, "no namespace", plain.Text())
	})

	t.Run("misses are nil and empty", func(t *testing.T) {
		t.Parallel()
		el, ok := root.Find("./v3:chicken")
		assert.False(t, ok)
		assert.Nil(t, el)
		assert.Empty(t, root.FindAll("./v3:chicken/v3:egg"))
		assert.Empty(t, root.FindAll("./unbound:id"))
		assert.Empty(t, root.FindAll("."))
	})

	t.Run("wildcard", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, root.FindAll("./v3:code/*"), 2)
	})
}
