/*
Copyright © 2019 the Parcel authors.
This file is part of Parcel.

Parcel is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Parcel is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Parcel.  If not, see <http://www.gnu.org/licenses/>.
*/

package parcel

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
)

// ExprProvider wraps a FieldProvider and adds fields that are
// calculated from other fields using expressions such as
// "T * (100000 / P) ** 0.286".
type ExprProvider struct {
	FieldProvider

	exprs map[string]*govaluate.EvaluableExpression
	vars  map[string][]string
}

// exprFunctions are the functions available within expressions.
var exprFunctions = map[string]govaluate.ExpressionFunction{
	"exp":  unaryFunc("exp", math.Exp),
	"log":  unaryFunc("log", math.Log),
	"sqrt": unaryFunc("sqrt", math.Sqrt),
	"abs":  unaryFunc("abs", math.Abs),
	"pow": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 2 {
			return nil, fmt.Errorf("parcel: got %d arguments for function 'pow', but needs 2", len(arg))
		}
		return math.Pow(arg[0].(float64), arg[1].(float64)), nil
	},
}

func unaryFunc(name string, f func(float64) float64) govaluate.ExpressionFunction {
	return func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("parcel: got %d arguments for function '%s', but needs 1", len(arg), name)
		}
		return f(arg[0].(float64)), nil
	}
}

// NewExprProvider creates a provider where each key of exprs is the
// name of a new field and each value is an expression in terms of
// fields of p.
func NewExprProvider(p FieldProvider, exprs map[string]string) (*ExprProvider, error) {
	e := &ExprProvider{
		FieldProvider: p,
		exprs:         make(map[string]*govaluate.EvaluableExpression, len(exprs)),
		vars:          make(map[string][]string, len(exprs)),
	}
	for name, src := range exprs {
		src = strings.Replace(src, "\n", " ", -1)
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(src, exprFunctions)
		if err != nil {
			return nil, configErrorf("Expressions", "field %s: %v", name, err)
		}
		vars := removeDuplicates(expr.Vars())
		if len(vars) == 0 {
			return nil, configErrorf("Expressions", "field %s does not use any input fields", name)
		}
		for _, v := range vars {
			if _, ok := exprs[v]; ok {
				return nil, configErrorf("Expressions", "field %s refers to derived field %s", name, v)
			}
		}
		e.exprs[name] = expr
		e.vars[name] = vars
	}
	return e, nil
}

// Field implements FieldProvider. Derived fields are calculated
// element by element; all input fields must have the same shape.
func (e *ExprProvider) Field(ctx context.Context, timeIndex int, name string) (*sparse.DenseArray, error) {
	expr, ok := e.exprs[name]
	if !ok {
		return e.FieldProvider.Field(ctx, timeIndex, name)
	}
	vars := e.vars[name]
	inputs := make([]*sparse.DenseArray, len(vars))
	for i, v := range vars {
		d, err := e.FieldProvider.Field(ctx, timeIndex, v)
		if err != nil {
			return nil, fmt.Errorf("parcel: calculating %s: %w", name, err)
		}
		if i > 0 && !sameShape(d.Shape, inputs[0].Shape) {
			return nil, fmt.Errorf("parcel: calculating %s: %s has shape %v but %s has shape %v",
				name, v, d.Shape, vars[0], inputs[0].Shape)
		}
		inputs[i] = d
	}
	out := sparse.ZerosDense(inputs[0].Shape...)
	params := make(map[string]interface{}, len(vars))
	for j := range out.Elements {
		for i, v := range vars {
			params[v] = inputs[i].Elements[j]
		}
		r, err := expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("parcel: calculating %s: %v", name, err)
		}
		f, ok := r.(float64)
		if !ok {
			return nil, fmt.Errorf("parcel: expression for %s gives %T instead of a number", name, r)
		}
		out.Elements[j] = f
	}
	return out, nil
}

// Derived returns the names of the derived fields in sorted order.
func (e *ExprProvider) Derived() []string {
	names := make([]string, 0, len(e.exprs))
	for n := range e.exprs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func removeDuplicates(s []string) []string {
	seen := make(map[string]bool)
	var o []string
	for _, v := range s {
		if !seen[v] {
			seen[v] = true
			o = append(o, v)
		}
	}
	return o
}
