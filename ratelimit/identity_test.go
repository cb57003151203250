package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestClientIDPrefersIdentity(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Real-IP", "10.0.0.1")

	assert.Equal(t, "user-42", ClientID(ctx, "user-42"))
}

func TestClientIDRealIPHeader(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Real-IP", "10.0.0.1")
	ctx.Request.Header.Set("X-Forwarded-For", "192.168.1.1")

	assert.Equal(t, "10.0.0.1", ClientID(ctx, ""))
}

func TestClientIDForwardedForFirstHop(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1, 10.0.0.2")

	assert.Equal(t, "203.0.113.7", ClientID(ctx, ""))
}

func TestClientIDForwardedForSingle(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set("X-Forwarded-For", " 203.0.113.7 ")

	assert.Equal(t, "203.0.113.7", ClientID(ctx, ""))
}

func TestClientIDFallsBackToRemoteAddr(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}

	// No identity, no proxy headers: the socket address is all that's left.
	assert.NotEmpty(t, ClientID(ctx, ""))
}
