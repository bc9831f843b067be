// Package matchexpr implements spec.md §9's "MultiExpression.MultiExpressionIndex"
// note as its own standalone module: a set of (label, predicates) rules,
// where a rule matches a feature's tags if any one of its predicates does
// (a disjunction), compiled once into an inverted index keyed by exact
// (key,value) pairs plus a per-key wildcard bucket for key=* predicates.
// Match then costs O(feature's tag count), not O(rule count).
//
// No pack library does inverted tag-predicate indexing, so this is
// genuinely new ground-up work per spec.md's own instruction to keep it
// a standalone module — the one package in this repo with no grounding
// dependency to lean on.
package matchexpr

import "github.com/tileforge-dev/tileforge/internal/model"

// TagPredicate matches one (key, value) tag pair, or any value for Key
// when Value is the empty string (a "key=*" wildcard).
type TagPredicate struct {
	Key   string
	Value string
}

func (p TagPredicate) wildcard() bool { return p.Value == "" }

// Index is a compiled set of rules, built once via Build and queried many
// times via Match.
type Index struct {
	exact    map[TagPredicate][]string
	wildcard map[string][]string
}

// Rule is one label and the disjunction of predicates that activate it.
type Rule struct {
	Label      string
	Predicates []TagPredicate
}

// Build compiles rules into an Index. Rules are independent; a feature
// may match any number of them.
func Build(rules []Rule) *Index {
	idx := &Index{
		exact:    map[TagPredicate][]string{},
		wildcard: map[string][]string{},
	}
	for _, r := range rules {
		for _, p := range r.Predicates {
			if p.wildcard() {
				idx.wildcard[p.Key] = append(idx.wildcard[p.Key], r.Label)
				continue
			}
			idx.exact[p] = append(idx.exact[p], r.Label)
		}
	}
	return idx
}

// Match returns every rule label whose predicate disjunction is
// satisfied by tags, deduplicated, in first-matched order.
func (idx *Index) Match(tags map[string]model.Scalar) []string {
	seen := map[string]bool{}
	var labels []string
	add := func(ls []string) {
		for _, l := range ls {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	for k, v := range tags {
		add(idx.exact[TagPredicate{Key: k, Value: v.String()}])
		add(idx.wildcard[k])
	}
	return labels
}
