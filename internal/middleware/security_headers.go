package middleware

import "net/http"

// apiContentSecurityPolicy はJSONとプレーンテキストのみを返すAPI向けのCSP。
// /raw/{id} でユーザー投稿本文をそのまま返すため、スクリプト実行とフレーム埋め込みを一切許可しない。
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'; sandbox"

var securityHeaders = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Cross-Origin-Resource-Policy", "same-site"},
	{"Content-Security-Policy", apiContentSecurityPolicy},
}

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// hstsがtrueの場合はStrict-Transport-Securityも付与する（HTTPS配信時のみ有効にすること）。
func NewSecurityHeadersMiddleware(hsts bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
