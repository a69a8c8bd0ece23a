package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"feedscroll/log"
)

// Logger should come before Recoverer
func Logger(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t1 := time.Now()

		path := r.URL.Path
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}
		commonFields := func(event *zerolog.Event) {
			event.
				Str("method", r.Method).
				Str("path", path).
				Str("remote", r.RemoteAddr)
		}

		var panicErr error
		r = withPanicSlot(r, &panicErr)

		defer func() {
			status := ww.Status()
			if status/100 == 5 {
				event := log.Error().Func(commonFields)
				if panicErr != nil {
					event.Err(panicErr)
				}
				event.
					Int("status", status).
					TimeDiff("duration", time.Now(), t1).
					Msg("failed")
			} else {
				log.Debug().
					Func(commonFields).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					TimeDiff("duration", time.Now(), t1).
					Msg("completed")
			}
		}()
		next.ServeHTTP(ww, r)
	}
	return http.HandlerFunc(fn)
}
