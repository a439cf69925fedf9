package common_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bakehouse/backoffice/common"
)

func TestGenericErrorMessage(t *testing.T) {
	english := "An unexpected error occurred. Please try again."
	tests := []struct {
		locale string
		want   string
	}{
		{"en", english},
		{"en-GB", english},
		{"es", "Se produjo un error inesperado. Inténtelo de nuevo."},
		{"es-MX", "Se produjo un error inesperado. Inténtelo de nuevo."},
		{"fr-CA", "Une erreur inattendue s'est produite. Veuillez réessayer."},
		{"ja", english},
		{"", english},
		{"not a locale!", english},
	}
	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.want, common.GenericErrorMessage(tt.locale))
		})
	}
}
