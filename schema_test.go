package search

import (
	"strings"
	"testing"
)

func TestCreateStatementsFulltextEngineSelection(t *testing.T) {
	stmts := CreateStatements(EngineOptions{Fulltext: true})
	found := false
	for _, s := range stmts {
		if strings.Contains(s, "`text`") {
			found = true
			if !strings.Contains(s, "ENGINE=MyISAM") {
				t.Errorf("expected text table to use MyISAM when fulltext enabled, got: %s", s)
			}
			if !strings.Contains(s, "FULLTEXT KEY") {
				t.Errorf("expected text table to declare a FULLTEXT KEY when fulltext enabled, got: %s", s)
			}
		}
	}
	if !found {
		t.Fatal("expected a CREATE TABLE statement for text")
	}
}

func TestCreateStatementsNoFulltextUsesInnoDB(t *testing.T) {
	stmts := CreateStatements(EngineOptions{Fulltext: false})
	for _, s := range stmts {
		if strings.Contains(s, "`text`") {
			if !strings.Contains(s, "ENGINE=InnoDB") {
				t.Errorf("expected text table to use InnoDB when fulltext disabled, got: %s", s)
			}
			if strings.Contains(s, "FULLTEXT KEY") {
				t.Errorf("did not expect a FULLTEXT KEY when fulltext disabled, got: %s", s)
			}
		}
	}
}

func TestCreateStatementsColumnWidths(t *testing.T) {
	for _, tbl := range Catalog {
		for _, c := range tbl.Columns {
			if c.Name == "title" || c.Name == "bag" || c.Name == "tiddler_title" || c.Name == "bag_name" {
				if !strings.Contains(c.TypeInDB, "VARCHAR(128)") {
					t.Errorf("%s.%s: expected VARCHAR(128), got %s", tbl.Name, c.Name, c.TypeInDB)
				}
			}
			if (tbl.Name == "tag" && c.Name == "tag") || (tbl.Name == "field" && c.Name == "value") {
				if !strings.Contains(c.TypeInDB, "VARCHAR(191)") {
					t.Errorf("%s.%s: expected VARCHAR(191), got %s", tbl.Name, c.Name, c.TypeInDB)
				}
			}
		}
	}
}

func TestTableByName(t *testing.T) {
	if tableByName("tag") == nil {
		t.Error("expected to find tag table in catalog")
	}
	if tableByName("nonexistent") != nil {
		t.Error("expected nil for unknown table name")
	}
}
