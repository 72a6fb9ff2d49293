package subscription

// DeriveRole computes the account role from subscription state: the package's
// target role while the subscription is active, the base role otherwise.
// It is the only place a role value is decided.
func DeriveRole(sub *Subscription, pkg *Package, base Role) Role {
	if sub == nil || pkg == nil || !sub.IsActive() || pkg.TargetRole == "" {
		return base
	}
	return pkg.TargetRole
}
