package nn

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// rowStatRes is the result of averaging the rows of a
// row-major matrix, optionally squaring entries first.
type rowStatRes struct {
	In      anydiff.Res
	Squared bool
	Rows    int
	Out     anyvec.Vector
}

// negMeanRows computes the negated mean of the rows of a
// row-major matrix with cols columns.
func negMeanRows(in anydiff.Res, cols int) anydiff.Res {
	rows := checkRows(in, cols)
	out := anyvec.SumRows(in.Output().Copy(), cols)
	out.Scale(out.Creator().MakeNumeric(-1 / float64(rows)))
	return &rowStatRes{In: in, Rows: rows, Out: out}
}

// meanSquareRows computes the mean of the squared rows of
// a row-major matrix with cols columns.
func meanSquareRows(in anydiff.Res, cols int) anydiff.Res {
	rows := checkRows(in, cols)
	sq := in.Output().Copy()
	sq.Mul(in.Output())
	out := anyvec.SumRows(sq, cols)
	out.Scale(out.Creator().MakeNumeric(1 / float64(rows)))
	return &rowStatRes{In: in, Squared: true, Rows: rows, Out: out}
}

func (r *rowStatRes) Output() anyvec.Vector {
	return r.Out
}

func (r *rowStatRes) Vars() anydiff.VarSet {
	return r.In.Vars()
}

func (r *rowStatRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	c := u.Creator()
	if r.Squared {
		u.Scale(c.MakeNumeric(2 / float64(r.Rows)))
	} else {
		u.Scale(c.MakeNumeric(-1 / float64(r.Rows)))
	}
	downstream := c.MakeVector(r.In.Output().Len())
	anyvec.AddRepeated(downstream, u)
	if r.Squared {
		downstream.Mul(r.In.Output())
	}
	r.In.Propagate(downstream, g)
}

func checkRows(in anydiff.Res, cols int) int {
	if in.Output().Len()%cols != 0 {
		panic("column count must divide input size")
	}
	return in.Output().Len() / cols
}
