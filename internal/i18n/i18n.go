// Package i18n translates the user interface into English and Indonesian.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

var (
	bundle      *i18n.Bundle
	matcher     language.Matcher
	defaultLang string
)

// Supported lists the UI languages. Each has a locales/<lang>.json file.
var Supported = []language.Tag{language.English, language.Indonesian}

// Init builds the message bundle with lang as the fallback language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)
	for _, t := range Supported {
		base, _ := t.Base()
		name := "locales/" + base.String() + ".json"
		data, err := localeFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := b.ParseMessageFileBytes(data, name); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	slog.Debug("loaded locales", "default", lang, "count", len(Supported))

	bundle = b
	matcher = language.NewMatcher(append([]language.Tag{tag}, Supported...))
	defaultLang = lang
	return nil
}

// Match picks the best supported language for the given preferences (cookie
// values or Accept-Language headers), falling back to the default language.
func Match(prefs ...string) string {
	tag, _ := language.MatchStrings(matcher, prefs...)
	base, _ := tag.Base()
	return base.String()
}

// NewLocalizer creates a localizer for the given languages in order of preference.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, langs...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

// localize renders a message for the context's language. Unknown IDs come
// back unchanged so a missing string shows up on the page instead of
// breaking it.
func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer)
	if !ok {
		loc = i18n.NewLocalizer(bundle, defaultLang)
	}
	s, err := loc.Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T translates a message by ID.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td translates a message filling in its template fields.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp translates a counted message; the count is available as {{.Count}}.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}
