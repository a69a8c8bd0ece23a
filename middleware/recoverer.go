package middleware

import (
	"context"
	"fmt"
	"net/http"

	"feedscroll/oops"
)

func Recoverer(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil && rvr != http.ErrAbortHandler {
				err, ok := rvr.(error)
				if !ok {
					err = fmt.Errorf("%v", rvr)
				}
				// A hijacked websocket connection has no status to write
				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
				setPanic(r, oops.Wrap(err))
			}
		}()

		next.ServeHTTP(w, r)
	}

	return http.HandlerFunc(fn)
}

type panicSlotKeyType struct{}

var panicSlotKey = &panicSlotKeyType{}

func withPanicSlot(r *http.Request, slot *error) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), panicSlotKey, slot))
}

func setPanic(r *http.Request, err error) {
	if slot, ok := r.Context().Value(panicSlotKey).(*error); ok {
		*slot = err
	}
}
