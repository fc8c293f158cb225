package lifecycle

// ChildRule decides when a child operation is permitted relative to the
// parent's validation state. The zero value is the default: children are
// editable only while the parent is an unvalidated draft that has never
// been validated.
type ChildRule int

const (
	// RuleBeforeValidation permits the operation only while the parent
	// has never been validated. This is the default for structural edits.
	RuleBeforeValidation ChildRule = iota
	// RulePostValidationAllowed permits the operation regardless of the
	// parent's validation state, as long as the record is not frozen by
	// a successor amendment.
	RulePostValidationAllowed
	// RuleRequiresValidation permits the operation only after the parent
	// has been validated. Follow-up entries on corrective plans use this.
	RuleRequiresValidation
)

// ChildPolicy is a module's per-operation override table. Operations absent
// from the map get RuleBeforeValidation.
type ChildPolicy struct {
	Rules map[string]ChildRule
}

// RuleFor returns the rule governing op.
func (p ChildPolicy) RuleFor(op string) ChildRule {
	if p.Rules == nil {
		return RuleBeforeValidation
	}
	if rule, ok := p.Rules[op]; ok {
		return rule
	}
	return RuleBeforeValidation
}
