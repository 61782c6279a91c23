package models

import (
	"path/filepath"
	"strings"
)

// Category describes one supported document category and the file extensions
// it accepts.
type Category struct {
	Key        string
	Label      string
	Extensions []string
}

// Categories lists every document category the backend can import.
var Categories = []Category{
	{Key: "bank_statement_yuh", Label: "YUH Bank Statement", Extensions: []string{".csv"}},
	{Key: "bank_statement_dkb", Label: "DKB Bank Statement", Extensions: []string{".csv"}},
	{Key: "broker_ing_diba_csv", Label: "ING DiBa Broker Report", Extensions: []string{".csv"}},
	{Key: "broker_viac_pdf", Label: "VIAC Broker Report", Extensions: []string{".pdf"}},
	{Key: "loan_kfw_pdf", Label: "KfW Loan Statement", Extensions: []string{".pdf"}},
}

// CategoryByKey looks up a category by its key.
func CategoryByKey(key string) (Category, bool) {
	for _, c := range Categories {
		if c.Key == key {
			return c, true
		}
	}
	return Category{}, false
}

// AcceptsFile reports whether the file name's extension is allowed for this
// category. Categories with no extension list accept everything.
func (c Category) AcceptsFile(name string) bool {
	if len(c.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range c.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
