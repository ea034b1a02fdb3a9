// Package i18n provides localized user-facing messages.
// It uses the go-i18n library with YAML catalogues embedded in the binary.
// English and Chinese are bundled; English is the fallback language.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Message ids used outside the error catalogue.
const (
	MsgLoginSuccess     = "login.success"
	MsgLogoutSuccess    = "logout.success"
	MsgReauthRequired   = "session.reauth_required"
	MsgSessionRestored  = "session.restored"
	MsgNetworkError     = "error.network"
	MsgNotConfigured    = "error.not_configured"
	MsgEmptyCard        = "error.empty_card"
	MsgMissingAppKey    = "config.missing_app_key"
	MsgMissingAppSecret = "config.missing_app_secret"
	MsgConfigOK         = "config.ok"
	MsgTimeUnknown      = "time.unknown"
	MsgTimeExpired      = "time.expired"
	MsgTimeDaysHours    = "time.days_hours"
	MsgTimeHoursMinutes = "time.hours_minutes"
	MsgTimeMinutes      = "time.minutes"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Translator resolves message ids for one language.
type Translator struct {
	lang      string
	localizer *i18n.Localizer
}

// NewBundle loads every embedded catalogue into a go-i18n bundle.
func NewBundle() (*i18n.Bundle, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("failed to read locales: %w", err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + f.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read locale %s: %w", f.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
			return nil, fmt.Errorf("failed to parse locale %s: %w", f.Name(), err)
		}
	}
	return bundle, nil
}

// New returns a Translator for lang. Unknown languages fall back to English.
func New(lang string) (*Translator, error) {
	bundle, err := NewBundle()
	if err != nil {
		return nil, err
	}
	return &Translator{
		lang:      lang,
		localizer: i18n.NewLocalizer(bundle, lang, language.English.String()),
	}, nil
}

// MustNew is New for callers that cannot recover from a broken catalogue.
func MustNew(lang string) *Translator {
	t, err := New(lang)
	if err != nil {
		panic(err)
	}
	return t
}

// Lang returns the requested language tag.
func (t *Translator) Lang() string {
	return t.lang
}

// T translates a message by id. Missing ids are returned unchanged.
func (t *Translator) T(messageID string) string {
	return t.TData(messageID, nil)
}

// TData translates a templated message.
func (t *Translator) TData(messageID string, data map[string]interface{}) string {
	msg, err := t.localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}

// Has reports whether messageID resolves in this translator.
func (t *Translator) Has(messageID string) bool {
	_, err := t.localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	return err == nil
}
