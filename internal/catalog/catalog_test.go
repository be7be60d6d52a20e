package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"LED Bulb 9W (Warm White)": "led-bulb-9w-warm-white",
		"  Socket -- Double  ":     "socket-double",
		"@#$%":                     "item",
		"Nyota   Extension":        "nyota-extension",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestCoercePrice(t *testing.T) {
	cases := map[string]int{
		"1,250":   1250,
		"699.99":  700,
		" 500 ":   500,
		"":        0,
		"n/a":     0,
		"120.4":   120,
	}
	for in, want := range cases {
		assert.Equal(t, want, CoercePrice(in), in)
	}
}

func TestNormalizeSKU(t *testing.T) {
	assert.Equal(t, "1", NormalizeSKU(" 1 "))
	assert.Equal(t, "Other", NormalizeSKU("Other"))
	assert.Equal(t, "", NormalizeSKU("pcs"))
	assert.Equal(t, "", NormalizeSKU(""))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.json")
	products := []Product{
		{ID: "led-bulb-9w", Name: "LED Bulb 9W", SKU: "1", Price: 250},
		{ID: "socket-double", Name: "Socket Double", Price: 450, Image: "/images/socket-double.webp"},
	}
	b, err := json.MarshalIndent(products, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, products, got)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestResolveImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "led-bulb-9w.webp"), []byte("img"), 0o644))

	in := []Product{
		{ID: "led-bulb-9w"},
		{ID: "socket-double"},
		{ID: "kettle", Image: "/images/custom.png"},
	}
	out := ResolveImages(in, dir)

	assert.Equal(t, "/"+filepath.ToSlash(filepath.Join(dir, "led-bulb-9w.webp")), out[0].Image)
	assert.Equal(t, "/images/placeholder.webp", out[1].Image)
	assert.Equal(t, "/images/custom.png", out[2].Image, "existing image untouched")
	assert.Empty(t, in[0].Image, "input slice not mutated")
}
