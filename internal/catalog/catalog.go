package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Product is one catalog entry. Prices are whole KES.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	SKU   string `json:"sku"`
	Price int    `json:"price"`
	Image string `json:"image,omitempty"`
}

// Load reads products.json as produced by cmd/genproducts.
func Load(path string) ([]Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return products, nil
}

// ResolveImages backfills missing image paths: an id-derived file under
// imageDir when one exists, else the shared placeholder.
func ResolveImages(products []Product, imageDir string) []Product {
	out := make([]Product, len(products))
	copy(out, products)
	for i := range out {
		if out[i].Image != "" {
			continue
		}
		out[i].Image = resolveImage(out[i].ID, imageDir)
	}
	return out
}

func resolveImage(id string, imageDir string) string {
	for _, ext := range []string{".webp", ".jpg", ".jpeg", ".png"} {
		candidate := filepath.Join(imageDir, id+ext)
		if _, err := os.Stat(candidate); err == nil {
			return "/" + filepath.ToSlash(candidate)
		}
	}
	return "/images/placeholder.webp"
}

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	dashes   = regexp.MustCompile(`-+`)
)

// Slugify turns a product name into a stable catalog id.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnum.ReplaceAllString(s, "-")
	s = strings.Trim(dashes.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "item"
	}
	return s
}

// CoercePrice reads a retail price cell as whole KES; commas tolerated,
// anything unparsable becomes 0.
func CoercePrice(v string) int {
	s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f + 0.5)
}

// NormalizeSKU keeps only the unit markers the inventory export actually
// uses; everything else collapses to empty.
func NormalizeSKU(v string) string {
	s := strings.TrimSpace(v)
	if s == "1" || strings.EqualFold(s, "other") {
		return s
	}
	return ""
}
