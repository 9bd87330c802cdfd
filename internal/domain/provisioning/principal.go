package provisioning

// Principal is the acting identity passed explicitly through every
// entry point. It is never read from ambient state.
type Principal struct {
	Email string
	Roles []string
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
