package common

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const msgGenericError = "An unexpected error occurred. Please try again."

// English first: it is the fallback for unmatched locales.
var supportedLocales = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
}

var localeMatcher = language.NewMatcher(supportedLocales)

func init() {
	_ = message.SetString(language.English, msgGenericError, msgGenericError)
	_ = message.SetString(language.Spanish, msgGenericError, "Se produjo un error inesperado. Inténtelo de nuevo.")
	_ = message.SetString(language.French, msgGenericError, "Une erreur inattendue s'est produite. Veuillez réessayer.")
}

// GenericErrorMessage is the user-facing message used when a failed response
// carries no readable error payload.
func GenericErrorMessage(locale string) string {
	tag := language.English
	if parsed, err := language.Parse(locale); err == nil {
		_, idx, _ := localeMatcher.Match(parsed)
		tag = supportedLocales[idx]
	}
	return message.NewPrinter(tag).Sprintf(msgGenericError)
}
