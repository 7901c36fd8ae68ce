package middleware

import "net/http"

// CORS applies the permissive policy the mobile clients expect and
// short-circuits preflight requests. The x-error header must be exposed
// or browsers hide the failure reason from the app.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		h.Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "x-error")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func CORSFunc(next http.HandlerFunc) http.HandlerFunc {
	return CORS(next).ServeHTTP
}
