package absave

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/text/cases"
)

// ============================================================
// Object Builder
// ============================================================

// MatchScore grades how well a constructor's parameters match the
// captured member names.
type MatchScore uint8

const (
	ScoreFailed MatchScore = iota
	ScoreCaseInsensitive
	ScorePerfect
)

func (s MatchScore) String() string {
	switch s {
	case ScorePerfect:
		return "perfect"
	case ScoreCaseInsensitive:
		return "case-insensitive"
	default:
		return "failed"
	}
}

// Captured is a decoded member waiting to be placed on an instance.
type Captured struct {
	Member Member
	Value  reflect.Value // Of Member.Type; invalid means null
}

// buildError carries the kind to report through the ErrorHandler.
type buildError struct {
	kind ErrorKind
	msg  string
}

func (e *buildError) Error() string { return e.msg }

// ScoreConstructor matches params against names. An exact match is
// preferred; otherwise the first unused case-folded match is taken. The
// returned slice maps each parameter to an index in names.
func ScoreConstructor(params, names []string) (MatchScore, []int) {
	fold := cases.Fold()
	folded := make([]string, len(names))
	for i, n := range names {
		folded[i] = fold.String(n)
	}

	used := make([]bool, len(names))
	mapping := make([]int, len(params))
	score := ScorePerfect

	for pi, p := range params {
		idx := -1
		for i, n := range names {
			if !used[i] && n == p {
				idx = i
				break
			}
		}
		if idx < 0 {
			fp := fold.String(p)
			for i := range names {
				if !used[i] && folded[i] == fp {
					idx = i
					break
				}
			}
			if idx < 0 {
				return ScoreFailed, nil
			}
			score = ScoreCaseInsensitive
		}
		used[idx] = true
		mapping[pi] = idx
	}
	return score, mapping
}

// Build materializes a struct of type t from captured members using the
// constructor table ctors.
//
// A zero-parameter constructor, or an empty table, builds the zero value
// and assigns every member. Otherwise the first Perfect constructor wins,
// then a sole CaseInsensitive one. Ties between CaseInsensitive
// constructors are refused.
func Build(t reflect.Type, captured []Captured, ctors []Constructor) (reflect.Value, error) {
	if len(ctors) == 0 {
		out := reflect.New(t).Elem()
		return out, assignMembers(out, captured, nil)
	}
	for _, c := range ctors {
		if len(c.Params) == 0 {
			return invoke(t, c, captured, nil)
		}
	}

	names := make([]string, len(captured))
	for i, c := range captured {
		names[i] = c.Member.Name
	}

	var (
		chosen     *Constructor
		mapping    []int
		candidates []int
	)
	for i := range ctors {
		c := &ctors[i]
		if len(c.Params) > len(captured) {
			continue
		}
		score, m := ScoreConstructor(c.Params, names)
		switch score {
		case ScorePerfect:
			if chosen == nil {
				chosen, mapping = c, m
			}
		case ScoreCaseInsensitive:
			candidates = append(candidates, i)
		}
		if chosen != nil {
			break
		}
	}

	if chosen == nil {
		switch len(candidates) {
		case 0:
			return reflect.Value{}, &buildError{
				kind: KindInvalidConstructor,
				msg:  fmt.Sprintf("%s: no constructor matches members [%s]", t, strings.Join(names, ", ")),
			}
		case 1:
			chosen = &ctors[candidates[0]]
			_, mapping = ScoreConstructor(chosen.Params, names)
		default:
			sigs := make([]string, len(candidates))
			for i, ci := range candidates {
				sigs[i] = "(" + strings.Join(ctors[ci].Params, ", ") + ")"
			}
			return reflect.Value{}, &buildError{
				kind: KindTooManyAmbiguousConstructors,
				msg:  fmt.Sprintf("%s: constructors %s all match [%s] ignoring case", t, strings.Join(sigs, " "), strings.Join(names, ", ")),
			}
		}
	}

	return invoke(t, *chosen, captured, mapping)
}

// invoke calls c with the mapped captured values and assigns the members
// it did not consume.
func invoke(t reflect.Type, c Constructor, captured []Captured, mapping []int) (reflect.Value, error) {
	args := make([]any, len(mapping))
	consumed := make([]bool, len(captured))
	for pi, ci := range mapping {
		if v := captured[ci].Value; v.IsValid() {
			args[pi] = v.Interface()
		}
		consumed[ci] = true
	}

	res, err := c.Build(args)
	if err != nil {
		return reflect.Value{}, &buildError{
			kind: KindInvalidConstructor,
			msg:  fmt.Sprintf("%s: constructor (%s): %v", t, strings.Join(c.Params, ", "), err),
		}
	}

	rv := reflect.ValueOf(res)
	if rv.IsValid() && rv.Type() == reflect.PointerTo(t) && !rv.IsNil() {
		rv = rv.Elem()
	}
	if !rv.IsValid() || rv.Type() != t {
		return reflect.Value{}, &buildError{
			kind: KindInvalidConstructor,
			msg:  fmt.Sprintf("%s: constructor (%s) returned %T", t, strings.Join(c.Params, ", "), res),
		}
	}

	out := reflect.New(t).Elem()
	out.Set(rv)
	return out, assignMembers(out, captured, consumed)
}

// assignMembers sets every captured member not marked consumed.
func assignMembers(out reflect.Value, captured []Captured, consumed []bool) error {
	for i, c := range captured {
		if consumed != nil && consumed[i] {
			continue
		}
		if c.Member.Index == nil {
			return &buildError{
				kind: KindInvalidConstructor,
				msg:  fmt.Sprintf("%s: member %s is only settable by a constructor", out.Type(), c.Member.Name),
			}
		}
		f := out.FieldByIndex(c.Member.Index)
		if !c.Value.IsValid() {
			f.SetZero()
			continue
		}
		f.Set(c.Value)
	}
	return nil
}
