package i18n

import "net/http"

// LangCookie is the cookie holding an explicit language choice.
const LangCookie = "lang"

// Middleware injects a localizer into every request context. The language is
// taken from the lang cookie, then Accept-Language, then the default.
func Middleware(lang string) func(http.Handler) http.Handler {
	def := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var prefs []string
			if c, err := r.Cookie(LangCookie); err == nil {
				prefs = append(prefs, c.Value)
			}
			if al := r.Header.Get("Accept-Language"); al != "" {
				prefs = append(prefs, al)
			}
			loc := def
			if len(prefs) > 0 {
				loc = NewLocalizer(Match(prefs...), lang)
			}
			ctx := WithLocalizer(r.Context(), loc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
