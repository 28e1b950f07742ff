package postgres

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/bettogether/internal/domain"
)

// Amounts travel as decimal text and are cast to NUMERIC(78,0) in SQL,
// which holds any 256-bit value.

func numeric(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func numerics(xs []*uint256.Int) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = numeric(x)
	}
	return out
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse amount %q: %w", s, err)
	}
	return v, nil
}

func parseAmounts(ss []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(ss))
	for i, s := range ss {
		v, err := parseAmount(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// filter accumulates WHERE conditions and their positional arguments.
type filter struct {
	conds []string
	args  []any
}

// add appends a condition whose single placeholder is written as "?".
func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, strings.Replace(cond, "?", fmt.Sprintf("$%d", len(f.args)), 1))
}

// window adds the Since/Until bounds of opts against timeCol.
func (f *filter) window(timeCol string, opts domain.ListOpts) {
	if opts.Since != nil {
		f.add(timeCol+" >= ?", *opts.Since)
	}
	if opts.Until != nil {
		f.add(timeCol+" < ?", *opts.Until)
	}
}

// build renders the WHERE, ORDER BY and paging clauses onto base.
func (f *filter) build(base, orderBy string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	if len(f.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.conds, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(orderBy)
	args := f.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}
