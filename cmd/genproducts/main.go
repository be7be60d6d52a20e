package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"duka/internal/catalog"
)

// Rebuilds public/products.json from the shop's inventory spreadsheet.
// Header naming varies between exports, so columns are matched loosely.
func main() {
	var input string
	var output string
	flag.StringVar(&input, "input", "Inventory Report.xlsx", "inventory spreadsheet")
	flag.StringVar(&output, "output", "public/products.json", "catalog output path")
	flag.Parse()

	if err := generate(input, output); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
}

func generate(input string, output string) error {
	f, err := excelize.OpenFile(input)
	if err != nil {
		return fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("sheet %q is empty", sheet)
	}

	cols, err := mapColumns(rows[0])
	if err != nil {
		return err
	}

	var products []catalog.Product
	seen := make(map[string]bool)
	for _, row := range rows[1:] {
		name := strings.TrimSpace(cell(row, cols["name"]))
		if name == "" || strings.HasPrefix(strings.ToLower(name), "total") {
			continue
		}
		price := catalog.CoercePrice(cell(row, cols["price"]))
		if price <= 0 {
			// rows without a valid retail price are not sellable
			continue
		}
		base := catalog.Slugify(name)
		id := base
		for n := 2; seen[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		seen[id] = true
		products = append(products, catalog.Product{
			ID:    id,
			Name:  name,
			SKU:   catalog.NormalizeSKU(cell(row, cols["sku"])),
			Price: price,
		})
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(products); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	log.Printf("wrote %d products to %s", len(products), output)
	return nil
}

// mapColumns locates the name/sku/price columns, tolerant to header
// variations across inventory exports.
func mapColumns(header []string) (map[string]int, error) {
	cols := map[string]int{}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "product", "product name", "name":
			cols["name"] = i
		case "units", "sku":
			cols["sku"] = i
		case "retail", "retail price", "price":
			cols["price"] = i
		}
	}
	var missing []string
	for _, k := range []string{"name", "sku", "price"} {
		if _, ok := cols[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns %v in header %v", missing, header)
	}
	return cols, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
