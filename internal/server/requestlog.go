package server

import (
	"log"
	"net/http"
	"time"

	"github.com/plenumhq/plenum/pkg/uuidv7"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, err := uuidv7.NewString()
		if err == nil {
			w.Header().Set("X-Request-ID", requestID)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Printf("request id=%s method=%s path=%s status=%d duration=%s",
			requestID, r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond))
	})
}
