package auth

// RequireAuthenticated rejects anonymous callers.
func RequireAuthenticated(id Identity) error {
	if !id.Authenticated() {
		return ErrUnauthorized
	}
	return nil
}

// RequireRole rejects anonymous callers with ErrUnauthorized and
// authenticated callers lacking the role with ErrForbidden.
func RequireRole(id Identity, role Role) error {
	if err := RequireAuthenticated(id); err != nil {
		return err
	}
	if id.User.Role != role {
		return ErrForbidden
	}
	return nil
}
