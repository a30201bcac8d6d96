package templates

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendererRestrictsHostFunctions(t *testing.T) {
	renderer := NewRenderer()
	t.Setenv("TEST_VAR", "value")

	for _, src := range []string{
		`{{ env "TEST_VAR" }}`,
		`{{ readFile "/etc/hostname" }}`,
		`{{ now }}`,
		`{{ uuidv4 }}`,
	} {
		_, err := renderer.CompileInline("inline", src)
		require.Error(t, err, "expected %s to be rejected at compile time", src)
	}
}

func TestRendererRendersSprigHelpers(t *testing.T) {
	renderer := NewRenderer()
	tmpl, err := renderer.CompileInline("pointer", `{{ trimSuffix "/" .Base }}/{{ .Handle | lower }}/export.csv`)
	require.NoError(t, err)
	require.Equal(t, "pointer", tmpl.Name())

	out, err := tmpl.Render(map[string]string{"Base": "https://data.example.org/", "Handle": "ABC"})
	require.NoError(t, err)
	require.Equal(t, "https://data.example.org/abc/export.csv", out)
}

func TestRendererMissingKeyFails(t *testing.T) {
	tmpl, err := NewRenderer().CompileInline("pointer", `{{ .Missing }}`)
	require.NoError(t, err)
	_, err = tmpl.Render(map[string]string{})
	require.Error(t, err)
}

func TestCompileInlineEmptySource(t *testing.T) {
	tmpl, err := NewRenderer().CompileInline("empty", "   ")
	require.NoError(t, err)
	require.Nil(t, tmpl)

	_, err = tmpl.Render(nil)
	require.Error(t, err)
}
