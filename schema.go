package search

import "fmt"

// column describes a single column of one of the fixed catalog tables. A
// binary collation on indexable varchars keeps them case-sensitive and
// under the storage engine's index-size limit.
type column struct {
	Name       string
	TypeInDB   string
	Nullable   bool
	PrimaryKey bool
}

func (c column) Definition() string {
	def := fmt.Sprintf("%s %s", EscapeIdentifier(c.Name), c.TypeInDB)
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def
}

// table describes one of the fixed catalog relations: tiddler, revision,
// text, tag, field. These are hardcoded rather than introspected -- the
// store's shape never varies and is never discovered at runtime.
type table struct {
	Name        string
	Columns     []column
	PrimaryKey  []string
	Indexes     [][]string
	Fulltext    []string // column names covered by a FULLTEXT KEY, if any
}

// Catalog is the fixed set of tables the planner assumes. It does not vary
// per Engine instance; EngineOptions only controls storage properties
// (engine choice and the text table's FULLTEXT KEY) applied when rendering
// CREATE TABLE. The default character set is always utf8.
var Catalog = []table{
	{
		Name: "tiddler",
		Columns: []column{
			{Name: "bag", TypeInDB: "VARCHAR(128) CHARACTER SET utf8 COLLATE utf8_bin"},
			{Name: "title", TypeInDB: "VARCHAR(128) CHARACTER SET utf8 COLLATE utf8_bin"},
			{Name: "revision", TypeInDB: "BIGINT"},
		},
		PrimaryKey: []string{"bag", "title"},
		Indexes:    [][]string{{"revision"}},
	},
	{
		Name: "revision",
		Columns: []column{
			{Name: "number", TypeInDB: "BIGINT"},
			{Name: "tiddler_title", TypeInDB: "VARCHAR(128) CHARACTER SET utf8 COLLATE utf8_bin"},
			{Name: "bag_name", TypeInDB: "VARCHAR(128) CHARACTER SET utf8 COLLATE utf8_bin"},
			{Name: "modified", TypeInDB: "DATETIME"},
			{Name: "type", TypeInDB: "VARCHAR(255)"},
			{Name: "creator", TypeInDB: "VARCHAR(255)"},
			{Name: "created", TypeInDB: "DATETIME"},
			{Name: "permissions", TypeInDB: "VARCHAR(255)"},
		},
		PrimaryKey: []string{"number"},
		Indexes:    [][]string{{"bag_name", "tiddler_title"}, {"modified"}},
	},
	{
		Name: "text",
		Columns: []column{
			{Name: "revision_number", TypeInDB: "BIGINT"},
			{Name: "text", TypeInDB: "LONGTEXT CHARACTER SET utf8"},
		},
		PrimaryKey: []string{"revision_number"},
		Fulltext:   []string{"text"},
	},
	{
		Name: "tag",
		Columns: []column{
			{Name: "revision_number", TypeInDB: "BIGINT"},
			{Name: "tag", TypeInDB: "VARCHAR(191) CHARACTER SET utf8 COLLATE utf8_bin"},
		},
		Indexes: [][]string{{"revision_number"}, {"tag"}},
	},
	{
		Name: "field",
		Columns: []column{
			{Name: "revision_number", TypeInDB: "BIGINT"},
			{Name: "name", TypeInDB: "VARCHAR(191) CHARACTER SET utf8 COLLATE utf8_bin"},
			{Name: "value", TypeInDB: "VARCHAR(191) CHARACTER SET utf8 COLLATE utf8_bin"},
		},
		Indexes: [][]string{{"revision_number"}, {"name", "value"}},
	},
}

// tableByName returns the catalog entry for name, or nil if no such table
// exists.
func tableByName(name string) *table {
	for i := range Catalog {
		if Catalog[i].Name == name {
			return &Catalog[i]
		}
	}
	return nil
}

// CreateStatements renders CREATE TABLE for every catalog table, applying
// the storage properties the schema/column binder is responsible for:
// engine selection (MyISAM for the fulltext-bearing text table when
// fulltext is enabled, InnoDB everywhere else) and a common utf8 default
// character set.
func CreateStatements(opts EngineOptions) []string {
	stmts := make([]string, 0, len(Catalog))
	for _, t := range Catalog {
		stmts = append(stmts, t.createStatement(opts))
	}
	return stmts
}

func (t table) createStatement(opts EngineOptions) string {
	lines := make([]string, 0, len(t.Columns)+len(t.Indexes)+2)
	for _, c := range t.Columns {
		lines = append(lines, "  "+c.Definition())
	}
	if len(t.PrimaryKey) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+escapeIdentifierList(t.PrimaryKey)+")")
	}
	for _, idx := range t.Indexes {
		lines = append(lines, fmt.Sprintf("  KEY (%s)", escapeIdentifierList(idx)))
	}
	engine := "InnoDB"
	if t.Name == "text" && opts.Fulltext {
		engine = "MyISAM"
	}
	for _, col := range t.Fulltext {
		if opts.Fulltext {
			lines = append(lines, fmt.Sprintf("  FULLTEXT KEY (%s)", EscapeIdentifier(col)))
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n%s\n) ENGINE=%s DEFAULT CHARSET=utf8",
		EscapeIdentifier(t.Name), joinLines(lines), engine)
}

func escapeIdentifierList(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += EscapeIdentifier(n)
	}
	return out
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += ",\n"
		}
		out += l
	}
	return out
}
