package properties

import "errors"

var (
	ErrNotFound          = errors.New("properties: not found")
	ErrDuplicateProperty = errors.New("properties: a property with the same name, city and address already exists")
	ErrDuplicateUnitCode = errors.New("properties: unit code already used in this property")
	ErrInvalidInput      = errors.New("properties: invalid input")
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateProperty), errors.Is(err, ErrDuplicateUnitCode):
		return "duplicate"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
