package i18n

import "net/http"

// Middleware negotiates the language of every request from its lang query
// parameter or Accept-Language header and stores a matching localizer.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accept := r.Header.Get("Accept-Language")
			if q := r.URL.Query().Get("lang"); q != "" {
				accept = q
			}
			tag := Negotiate(accept)
			ctx := WithLang(r.Context(), tag)
			ctx = WithLocalizer(ctx, NewLocalizer(tag.String()))
			w.Header().Set("Content-Language", tag.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
