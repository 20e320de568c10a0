package source

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidations_Driver(t *testing.T) {
	v := validator.New()
	require.NoError(t, RegisterValidations(v))

	for _, driver := range SupportedDrivers {
		assert.NoError(t, v.Struct(Config{Type: "erp", Driver: driver, DSN: "x"}), driver)
	}

	err := v.Struct(Config{Type: "erp", Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, DriverTag, verrs[0].Tag())
}
