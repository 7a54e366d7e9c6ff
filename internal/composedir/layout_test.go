package composedir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factorial-io/scotty-sub002/internal/model"
)

func TestLayout_WriteReadRoundTrip(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	settings := model.AppSettings{Domain: "demo.example.com", Scope: "acme"}

	require.NoError(t, layout.Write("demo", []byte("services:\n  web:\n    image: nginx\n"), settings))
	assert.True(t, layout.Exists("demo"))

	got, err := layout.ReadSettings("demo")
	require.NoError(t, err)
	assert.Equal(t, settings.Domain, got.Domain)
	assert.Equal(t, settings.Scope, got.Scope)

	compose, err := layout.ReadCompose("demo")
	require.NoError(t, err)
	assert.Contains(t, string(compose), "nginx")
}

func TestLayout_RemoveLeavesNoFiles(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	require.NoError(t, layout.Write("demo", []byte("services: {}\n"), model.AppSettings{}))
	require.True(t, layout.Exists("demo"))

	require.NoError(t, layout.Remove("demo"))
	assert.False(t, layout.Exists("demo"))
}

func TestLayout_ListAppNamesOnlyValidComposeDirs(t *testing.T) {
	layout := Layout{Root: t.TempDir()}
	require.NoError(t, layout.Write("demo-one", []byte("services: {}\n"), model.AppSettings{}))
	require.NoError(t, layout.Write("demo-two", []byte("services: {}\n"), model.AppSettings{}))

	names, err := layout.ListAppNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"demo-one", "demo-two"}, names)
}
