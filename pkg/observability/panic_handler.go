package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"
)

// RecoverPanic recovers from a panic and logs it with its stack. It must be
// called directly by defer. The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// RecoverPanicWithCallback is RecoverPanic followed by callback when a panic
// was recovered
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered value into an error
//
//	defer func() {
//	    err = observability.MustRecover(recover())
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

func logPanic(logger *Logger, context string, r interface{}) {
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", context).
		Error("PANIC recovered")
}

// RecoveryMiddleware turns a handler panic into a 500 response. A panic
// inside an authorization check never becomes an allow.
func RecoveryMiddleware(logger *Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logPanic(FromContext(r.Context()).WithField("path", r.URL.Path), "http handler", rec)
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
