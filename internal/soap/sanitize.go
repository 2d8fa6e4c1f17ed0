package soap

import (
	"cmp"
	"slices"
	"strings"

	"github.com/beevik/etree"
)

// Rule names a header removal rule.
type Rule string

const (
	RuleCoordinationContext Rule = "coordination-context"
	RuleWSAT                Rule = "wsat"
	RuleTransaction         Rule = "transaction"
)

// Namespace fragments identifying WS-Coordination and WS-AtomicTransaction.
var (
	coordinationNamespaceMarkers = []string{"coordination", "wscoor", "ws-coordination"}
	wsatNamespaceMarkers         = []string{"wsat", "atomictransaction", "atomic-transaction"}
	transactionNameMarkers       = []string{"Transaction", "Coordination", "Activity"}
)

// Rules selects which removal rules are active.
type Rules struct {
	CoordinationContext bool
	WSAT                bool
	Transaction         bool
}

// Any reports whether at least one rule is active.
func (r Rules) Any() bool {
	return r.CoordinationContext || r.WSAT || r.Transaction
}

// Match evaluates the OR of all active rules against one header entry and
// returns the first rule that matched.
func (r Rules) Match(local, namespaceURI string) (Rule, bool) {
	if r.CoordinationContext && local == "CoordinationContext" && containsAny(namespaceURI, coordinationNamespaceMarkers) {
		return RuleCoordinationContext, true
	}
	if r.WSAT && containsAny(namespaceURI, wsatNamespaceMarkers) {
		return RuleWSAT, true
	}
	if r.Transaction && containsAny(local, transactionNameMarkers) {
		return RuleTransaction, true
	}
	return "", false
}

// Removal describes one header entry removed by Sanitize.
type Removal struct {
	Rule         Rule
	Local        string
	NamespaceURI string
}

// Sanitize removes every immediate header child matched by rules and
// reports what was removed. Nested elements are not inspected and the Body
// is never touched; Bytes drops the removed entries' input bytes. Matches are decided over a snapshot of the children
// before anything is removed, so each sibling is evaluated exactly once.
func (e *Envelope) Sanitize(rules Rules) []Removal {
	if e.header == nil || !rules.Any() {
		return nil
	}

	var (
		removals []Removal
		doomed   []*etree.Element
	)
	for _, entry := range e.HeaderEntries() {
		rule, ok := rules.Match(entry.Local, entry.NamespaceURI)
		if !ok {
			continue
		}
		removals = append(removals, Removal{
			Rule:         rule,
			Local:        entry.Local,
			NamespaceURI: entry.NamespaceURI,
		})
		doomed = append(doomed, entry.el)
	}

	for _, el := range doomed {
		e.header.RemoveChild(el)
		e.removed = append(e.removed, e.spans[el])
	}
	slices.SortFunc(e.removed, func(a, b span) int { return cmp.Compare(a.start, b.start) })
	return removals
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
