package authz

import "errors"

var (
	ErrInvalidLevel    = errors.New("authz: invalid access level")
	ErrInvalidOverride = errors.New("authz: email and permission are required")
)
