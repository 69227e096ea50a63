package rbac

// Checker decides whether a principal may perform verb on resource.
type Checker interface {
	Check(p Principal, resource string, verb Verb) bool
}

// Evaluator is the stateless Checker used across the console.
type Evaluator struct{}

// Check implements Checker.
func (Evaluator) Check(p Principal, resource string, verb Verb) bool {
	return Check(p, resource, verb)
}

// Check reports whether p may perform verb on resource. super_admin is always
// allowed; otherwise a granted permission must name resource exactly and list verb.
func Check(p Principal, resource string, verb Verb) bool {
	if p.Role == RoleSuperAdmin {
		return true
	}
	for _, perm := range p.Permissions {
		if perm.Allows(resource, verb) {
			return true
		}
	}
	return false
}
