package attributes

import (
	"shvattr/render"
	"shvattr/value"
)

// Column indexes a cell of the table.
type Column int

const (
	ColMethod Column = iota
	ColSignature
	ColFlags
	ColAccessLevel
	ColParams
	ColResult
	ColRun
	ColumnCount
)

var columnTitles = [ColumnCount]string{
	ColMethod:      "Method",
	ColSignature:   "Signature",
	ColFlags:       "Flags",
	ColAccessLevel: "AL",
	ColParams:      "Params",
	ColResult:      "Result",
	ColRun:         "",
}

// ColumnTitle is the header text of col.
func ColumnTitle(col Column) string {
	if col < 0 || col >= ColumnCount {
		return ""
	}
	return columnTitles[col]
}

// ColumnTooltip is the header tooltip of col.
func ColumnTooltip(col Column) string {
	if col == ColAccessLevel {
		return "Access Level"
	}
	return ""
}

// Editable reports whether cells of col accept edits.
func Editable(col Column) bool {
	return col == ColParams
}

// Affordance is what the run cell of a row offers.
type Affordance int

const (
	AffordanceNone   Affordance = iota // signals: nothing to call
	AffordanceRun                      // never called
	AffordanceReload                   // called before, or in flight
)

func (a Affordance) String() string {
	switch a {
	case AffordanceRun:
		return "run"
	case AffordanceReload:
		return "reload"
	}
	return ""
}

// RowAffordance derives the run cell state of r.
func RowAffordance(r Row) Affordance {
	if r.Method.IsSignal() {
		return AffordanceNone
	}
	if r.Pending != 0 || r.Response != nil {
		return AffordanceReload
	}
	return AffordanceRun
}

// DisplayValue is the display text of one cell of r.
func DisplayValue(r Row, col Column) string {
	switch col {
	case ColMethod:
		return r.Method.Name
	case ColSignature:
		return r.Method.SignatureString()
	case ColFlags:
		return r.Method.Flags.String()
	case ColAccessLevel:
		return r.Method.Access.String()
	case ColParams:
		return paramsText(r)
	case ColResult:
		if r.Response == nil {
			return ""
		}
		return render.Render(*r.Response)
	case ColRun:
		return RowAffordance(r).String()
	}
	return ""
}

// EditValue is the text offered for editing; only params are editable.
func EditValue(r Row, col Column) string {
	if col != ColParams {
		return ""
	}
	return paramsText(r)
}

// TooltipValue is the tooltip text of one cell of r.
func TooltipValue(r Row, col Column) string {
	switch col {
	case ColRun:
		if r.Method.IsSignal() {
			return ""
		}
		return "Call remote method"
	case ColFlags:
		if r.Method.IsSignal() {
			return "Method is notify signal"
		}
		return ""
	}
	return DisplayValue(r, col)
}

func paramsText(r Row) string {
	if r.Params == nil {
		return ""
	}
	return value.Cpon(r.Params)
}
