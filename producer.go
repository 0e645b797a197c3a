package search

import (
	"fmt"
	"strconv"
	"strings"
)

// producer walks an AST and accumulates a relational plan, mirroring the
// per-query mutable-state Producer described for this store: a set of join
// flags, context flags for the current boolean operator, and a running
// limit/order-by. A producer is used for exactly one Produce call and then
// discarded; it retains no state across queries.
type producer struct {
	joins    []string
	joinArgs []interface{}

	textAlias  string
	textCount  int
	tagAlias   string
	tagCount   int
	fieldAlias string
	fieldCount int
	geoCount   int

	selectExtra     []string
	selectExtraArgs []interface{}

	having     string
	havingArgs []interface{}

	orderBy string
	limit   *int

	inAnd, inOr, inNot bool
}

func newProducer() *producer {
	return &producer{
		joins: []string{"JOIN revision r ON r.number = t.revision"},
	}
}

// Produce lowers ast into a Plan, ready to render as SQL. defaultLimit is
// used as the plan's limit if the query never set one via near: or
// _limit:.
func Produce(ast node, defaultLimit int) (*Plan, error) {
	p := newProducer()
	where, whereArgs, err := p.eval(ast)
	if err != nil {
		return nil, err
	}

	limit := defaultLimit
	if p.limit != nil {
		limit = *p.limit
	}

	return &Plan{
		Joins:           p.joins,
		JoinArgs:        p.joinArgs,
		SelectExtra:     p.selectExtra,
		SelectExtraArgs: p.selectExtraArgs,
		Where:           where,
		WhereArgs:       whereArgs,
		Having:          p.having,
		HavingArgs:      p.havingArgs,
		OrderBy:         p.orderBy,
		Limit:           limit,
	}, nil
}

func (p *producer) eval(n node) (string, []interface{}, error) {
	switch v := n.(type) {
	case toplevelNode:
		return p.evalAndList(v.Children)
	case groupNode:
		return p.evalAndList(v.Children)
	case andNode:
		old := p.inAnd
		p.inAnd = true
		expr, args, err := p.evalAndList(v.Operands)
		p.inAnd = old
		return expr, args, err
	case orNode:
		return p.evalOrList(v.Operands)
	case notNode:
		old := p.inNot
		p.inNot = true
		expr, args, err := p.eval(v.Unit)
		p.inNot = old
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + expr + ")", args, nil
	case fieldNode:
		return p.evalField(v)
	case wordNode:
		return p.evalFulltext(v.Value, false)
	case quotesNode:
		return p.evalFulltext(v.Value, true)
	case boostNode:
		return p.eval(v.Unit)
	case rangeNode:
		return "", nil, newStoreError(nil, "range expressions are only supported within a fielded unit")
	default:
		return "", nil, newStoreError(nil, "unrecognized query node")
	}
}

// evalAndList implicitly conjoins children -- used both for Toplevel/Group
// (which never set in_and) and for an explicit And node (which does).
func (p *producer) evalAndList(children []node) (string, []interface{}, error) {
	if len(children) == 0 {
		return "1=1", nil, nil
	}
	var exprs []string
	var args []interface{}
	for _, c := range children {
		e, a, err := p.eval(c)
		if err != nil {
			return "", nil, err
		}
		exprs = append(exprs, e)
		args = append(args, a...)
	}
	return "(" + strings.Join(exprs, " AND ") + ")", args, nil
}

func (p *producer) evalOrList(operands []node) (string, []interface{}, error) {
	old := p.inOr
	p.inOr = true
	var exprs []string
	var args []interface{}
	for _, operand := range operands {
		e, a, err := p.eval(operand)
		if err != nil {
			p.inOr = old
			return "", nil, err
		}
		exprs = append(exprs, e)
		args = append(args, a...)
	}
	p.inOr = old
	return "(" + strings.Join(exprs, " OR ") + ")", args, nil
}

// evalField dispatches a fieldNode per the canonicalization rules: ftitle
// and title bind to the tiddler's title column; fbag and bag to its bag
// column; id splits on the first colon into a (bag, title) equality pair;
// near and _limit are special operators with no column of their own;
// anything else matching a first-class revision column binds there, and
// everything remaining falls through to the key/value field relation.
func (p *producer) evalField(f fieldNode) (string, []interface{}, error) {
	switch f.Name {
	case "title", "ftitle":
		return p.evalColumnField("t.title", f.Unit)
	case "bag", "fbag":
		return p.evalColumnField("t.bag", f.Unit)
	case "id":
		w, ok := f.Unit.(wordNode)
		if !ok {
			return "", nil, newStoreError(nil, "id: requires a BAG:TITLE value")
		}
		parts := strings.SplitN(w.Value, ":", 2)
		if len(parts) != 2 {
			return "", nil, newStoreError(nil, "id: requires a BAG:TITLE value")
		}
		return "(t.bag = ? AND t.title = ?)", []interface{}{parts[0], parts[1]}, nil
	case "tag":
		alias := p.tagJoinAlias()
		return p.evalColumnField(alias+".tag", f.Unit)
	case "near":
		return p.evalNear(f.Unit)
	case "_limit":
		return p.evalLimit(f.Unit)
	default:
		if col, ok := revisionColumn(f.Name); ok {
			return p.evalColumnField("r."+col, f.Unit)
		}
		return p.evalGenericField(f.Name, f.Unit)
	}
}

// revisionColumn reports whether name matches a first-class column of the
// revision relation (other than title/bag, which live on tiddler and are
// handled via the title/bag canonicalization above).
func revisionColumn(name string) (string, bool) {
	switch name {
	case "modified", "type", "creator", "created", "permissions":
		return name, true
	}
	return "", false
}

func (p *producer) evalGenericField(name string, unit node) (string, []interface{}, error) {
	alias := p.fieldJoinAlias()
	valueExpr, valueArgs, err := p.evalColumnField(alias+".value", unit)
	if err != nil {
		return "", nil, err
	}
	args := append([]interface{}{name}, valueArgs...)
	return fmt.Sprintf("(%s.name = ? AND %s)", alias, valueExpr), args, nil
}

// evalColumnField renders an equality, LIKE, or range comparison against a
// single column, depending on the shape of unit.
func (p *producer) evalColumnField(col string, unit node) (string, []interface{}, error) {
	switch u := unit.(type) {
	case wordNode:
		if strings.HasSuffix(u.Value, "*") {
			pattern := strings.TrimSuffix(u.Value, "*") + "%"
			return col + " LIKE ?", []interface{}{pattern}, nil
		}
		return col + " = ?", []interface{}{u.Value}, nil
	case quotesNode:
		return col + " = ?", []interface{}{u.Value}, nil
	case rangeNode:
		return p.evalColumnRange(col, u)
	default:
		return "", nil, newStoreError(nil, "unsupported value for a fielded term")
	}
}

func (p *producer) evalColumnRange(col string, r rangeNode) (string, []interface{}, error) {
	var clauses []string
	var args []interface{}
	if r.Low != "" {
		op := ">="
		if !r.LowInclusive {
			op = ">"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, r.Low)
	}
	if r.High != "" {
		op := "<="
		if !r.HighInclusive {
			op = "<"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, r.High)
	}
	if len(clauses) == 0 {
		return "1=1", nil, nil
	}
	return "(" + strings.Join(clauses, " AND ") + ")", args, nil
}

// evalFulltext handles an unfielded Word or Quotes term: the first one
// lazily joins the text relation, and MATCH() AGAINST() is emitted in
// boolean mode. A trailing wildcard on a bare Word falls back to LIKE,
// same as a fielded column, since MATCH doesn't support prefix wildcards
// in boolean mode the way a plain LIKE does.
func (p *producer) evalFulltext(value string, isPhrase bool) (string, []interface{}, error) {
	alias := p.textJoinAlias()
	if !isPhrase && strings.HasSuffix(value, "*") {
		pattern := strings.TrimSuffix(value, "*") + "%"
		return alias + ".text LIKE ?", []interface{}{pattern}, nil
	}
	arg := value
	if isPhrase {
		arg = "\"" + value + "\""
	}
	return fmt.Sprintf("MATCH(%s.text) AGAINST (? IN BOOLEAN MODE)", alias), []interface{}{arg}, nil
}

// evalNear parses "LAT,LONG,RADIUS_METRES", joins the field relation twice
// for geo.lat/geo.long, computes great-circle distance via the spherical
// law of cosines, and attaches a HAVING filter plus an ascending order-by
// and a limit of 20 (overridable by a subsequent _limit:).
func (p *producer) evalNear(unit node) (string, []interface{}, error) {
	w, ok := unit.(wordNode)
	if !ok {
		return "", nil, newStoreError(nil, "near: requires a LAT,LONG,RADIUS value")
	}
	parts := strings.Split(w.Value, ",")
	if len(parts) != 3 {
		return "", nil, newStoreError(nil, "near: requires exactly 3 comma-separated values")
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	long, errLong := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	radius, errRadius := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if errLat != nil || errLong != nil || errRadius != nil {
		return "", nil, newStoreError(nil, "near: malformed latitude, longitude, or radius in %q", w.Value)
	}

	latAlias := fmt.Sprintf("geo%d", p.geoCount)
	p.geoCount++
	longAlias := fmt.Sprintf("geo%d", p.geoCount)
	p.geoCount++
	p.joins = append(p.joins, fmt.Sprintf("LEFT JOIN field %s ON %s.revision_number = r.number AND %s.name = ?", latAlias, latAlias, latAlias))
	p.joinArgs = append(p.joinArgs, "geo.lat")
	p.joins = append(p.joins, fmt.Sprintf("LEFT JOIN field %s ON %s.revision_number = r.number AND %s.name = ?", longAlias, longAlias, longAlias))
	p.joinArgs = append(p.joinArgs, "geo.long")

	greatcircle := fmt.Sprintf(
		"(6371000 * ACOS(COS(RADIANS(?)) * COS(RADIANS(%s.value)) * COS(RADIANS(%s.value) - RADIANS(?)) + SIN(RADIANS(?)) * SIN(RADIANS(%s.value))))",
		latAlias, longAlias, latAlias,
	)
	p.selectExtra = append(p.selectExtra, greatcircle+" AS greatcircle")
	p.selectExtraArgs = append(p.selectExtraArgs, lat, long, lat)

	p.having = "greatcircle < ?"
	p.havingArgs = []interface{}{radius}
	if p.orderBy == "" {
		p.orderBy = "greatcircle ASC"
	}
	if p.limit == nil {
		defaultNearLimit := 20
		p.limit = &defaultNearLimit
	}
	return "1=1", nil, nil
}

// evalLimit sets the plan's result limit. A non-integer value is silently
// ignored, per the store's lenient handling of malformed _limit: terms.
func (p *producer) evalLimit(unit node) (string, []interface{}, error) {
	w, ok := unit.(wordNode)
	if !ok {
		return "1=1", nil, nil
	}
	n, err := strconv.Atoi(w.Value)
	if err != nil || n < 0 {
		return "1=1", nil, nil
	}
	p.limit = &n
	if p.orderBy == "" {
		p.orderBy = "r.modified DESC"
	}
	return "1=1", nil, nil
}

func (p *producer) textJoinAlias() string {
	if p.inAnd || p.textAlias == "" {
		alias := fmt.Sprintf("x%d", p.textCount)
		p.textCount++
		p.joins = append(p.joins, fmt.Sprintf("JOIN text %s ON %s.revision_number = r.number", alias, alias))
		if !p.inAnd {
			p.textAlias = alias
		}
		return alias
	}
	return p.textAlias
}

func (p *producer) tagJoinAlias() string {
	if p.inAnd || p.tagAlias == "" {
		alias := fmt.Sprintf("tag%d", p.tagCount)
		p.tagCount++
		p.joins = append(p.joins, fmt.Sprintf("JOIN tag %s ON %s.revision_number = r.number", alias, alias))
		if !p.inAnd {
			p.tagAlias = alias
		}
		return alias
	}
	return p.tagAlias
}

func (p *producer) fieldJoinAlias() string {
	if p.inAnd || p.fieldAlias == "" {
		alias := fmt.Sprintf("field%d", p.fieldCount)
		p.fieldCount++
		p.joins = append(p.joins, fmt.Sprintf("JOIN field %s ON %s.revision_number = r.number", alias, alias))
		if !p.inAnd {
			p.fieldAlias = alias
		}
		return alias
	}
	return p.fieldAlias
}
