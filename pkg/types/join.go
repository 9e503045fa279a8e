package types

// Join computes the least upper bound of two types with respect to a
// class hierarchy, as used by Pass 2 for ternary branch merging, list
// display element typing and list concatenation (§3, §4.D). The join is
// total: every ChocoPy type is a subtype of `object`, so any two types
// meet there when nothing tighter exists.
func Join(ct *ClassTable, a, b *Type) *Type {
	if Equal(a, b) {
		return a
	}

	// <Empty> only arises as the element type of `[]`; it is the bottom
	// of every join so that `[] + l` concatenates with any list.
	if a.Kind == KEmpty {
		return b
	}
	if b.Kind == KEmpty {
		return a
	}
	// <None> is a subtype of every reference type; its join with one is
	// that reference type (§3, §4.D).
	if a.Kind == KNone && IsReferenceType(b) {
		return b
	}
	if b.Kind == KNone && IsReferenceType(a) {
		return a
	}

	if a.Kind == KList && b.Kind == KList {
		// Lists are invariant: two different list types only relate
		// when one is the empty-display type, handled above via its
		// <Empty> element.
		if a.Elem.Kind == KEmpty {
			return b
		}
		if b.Elem.Kind == KEmpty {
			return a
		}
		return Object
	}

	if a.Kind == KClass && b.Kind == KClass {
		// Walk up a's ancestor chain for the nearest class that is also
		// an ancestor of b (standard single-inheritance LUB, rooted at
		// object).
		bSet := map[string]bool{}
		for c := b.Class; c != ""; c = parentOf(ct, c) {
			bSet[c] = true
		}
		for c := a.Class; c != ""; c = parentOf(ct, c) {
			if bSet[c] {
				return Class(c)
			}
		}
		return Object
	}

	// int/bool/str/None against anything else: nothing tighter than the
	// top type remains.
	return Object
}

func parentOf(ct *ClassTable, class string) string {
	ci := ct.Lookup(class)
	if ci == nil {
		return ""
	}
	return ci.Parent
}

// IsAssignable reports whether a value of type src can be assigned to
// (or passed/returned as) a location of type dst, per §4.D's
// assignment-compatibility rules: equal types; <None>/<Empty> into any
// reference type; a subclass into a superclass; an empty list display
// into any declared list type.
func IsAssignable(ct *ClassTable, dst, src *Type) bool {
	if Equal(dst, src) {
		return true
	}
	if src.Kind == KNone || src.Kind == KEmpty {
		return IsReferenceType(dst)
	}
	if dst.Kind == KClass && src.Kind == KClass {
		return ct.IsSubclass(src.Class, dst.Class)
	}
	if dst.Kind == KClass && dst.Class == ObjectClass {
		return true // every type, lists and values included, fits object
	}
	if dst.Kind == KList && src.Kind == KList {
		return src.Elem.Kind == KEmpty
	}
	return false
}
