package ratelimit

import (
	"bytes"

	"github.com/valyala/fasthttp"
)

var (
	realIPHeader    = []byte("X-Real-IP")
	forwardedHeader = []byte("X-Forwarded-For")
	commaBytes      = []byte(",")
)

// ClientID picks the rate-limit identity for a request. An authenticated
// identity wins; anonymous traffic falls back to the client IP taken from
// proxy headers, then the socket address.
func ClientID(ctx *fasthttp.RequestCtx, identity string) string {
	if identity != "" {
		return identity
	}

	if realIP := ctx.Request.Header.PeekBytes(realIPHeader); len(realIP) > 0 {
		return string(realIP)
	}

	if forwarded := ctx.Request.Header.PeekBytes(forwardedHeader); len(forwarded) > 0 {
		if comma := bytes.Index(forwarded, commaBytes); comma > 0 {
			return string(bytes.TrimSpace(forwarded[:comma]))
		}
		return string(bytes.TrimSpace(forwarded))
	}

	return ctx.RemoteIP().String()
}
