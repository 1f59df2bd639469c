package main

import (
	"embed"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.toml
var localeFS embed.FS

var localizer *i18n.Localizer

func newBundle() (*i18n.Bundle, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, name := range []string{"locales/en.toml", "locales/fr.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, name); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

// systemLanguage returns the language of LC_ALL, LC_MESSAGES or LANG
// ("fr_FR.UTF-8" gives "fr-FR"), English when unset or unparsable.
func systemLanguage() string {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		value := os.Getenv(env)
		if value == "" || value == "C" || value == "POSIX" {
			continue
		}
		if idx := strings.IndexAny(value, ".@"); idx >= 0 {
			value = value[:idx]
		}
		tag, err := language.Parse(strings.ReplaceAll(value, "_", "-"))
		if err == nil {
			return tag.String()
		}
	}
	return language.English.String()
}

func initLocalizer() error {
	bundle, err := newBundle()
	if err != nil {
		return err
	}
	localizer = i18n.NewLocalizer(bundle, systemLanguage(), language.English.String())
	return nil
}

func localize(messageID string) string {
	if localizer == nil {
		return messageID
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil || msg == "" {
		return messageID
	}
	return msg
}
