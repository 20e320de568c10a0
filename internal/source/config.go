package source

import (
	"slices"

	"github.com/go-playground/validator/v10"
)

// DriverTag is the validation tag accepting any name in SupportedDrivers
const DriverTag = "sqldriver"

// Config describes one upstream source reachable through database/sql
type Config struct {
	// Source type referenced by metric definitions
	Type string `toml:"type" validate:"required"`

	// database/sql driver name
	Driver string `toml:"driver" validate:"required,sqldriver"`

	// Driver-specific connection string
	DSN string `toml:"dsn" validate:"required"`
}

// RegisterValidations adds the source validation tags to v
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation(DriverTag, func(fl validator.FieldLevel) bool {
		return slices.Contains(SupportedDrivers, fl.Field().String())
	})
}
