package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError sends the standard error envelope. Middleware cannot reach the
// handler package's helpers without an import cycle.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	body, _ := json.Marshal(map[string]any{
		"success": false,
		"code":    code,
		"message": msg,
	})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
