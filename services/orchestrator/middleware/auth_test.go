// Copyright (C) 2025 Cairn Health (oss@cairnhealth.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func authRouter(token string) *gin.Engine {
	router := gin.New()
	router.Use(BearerAuth(token))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func getWithAuth(router *gin.Engine, header string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestBearerAuth(t *testing.T) {
	router := authRouter("s3cret")

	assert.Equal(t, http.StatusOK, getWithAuth(router, "Bearer s3cret"))
	assert.Equal(t, http.StatusUnauthorized, getWithAuth(router, "Bearer wrong"))
	assert.Equal(t, http.StatusUnauthorized, getWithAuth(router, "s3cret"))
	assert.Equal(t, http.StatusUnauthorized, getWithAuth(router, ""))
}

func TestBearerAuth_DisabledWhenEmpty(t *testing.T) {
	router := authRouter("")
	assert.Equal(t, http.StatusOK, getWithAuth(router, ""))
}

func TestRateLimit_RejectsBeyondBurst(t *testing.T) {
	router := gin.New()
	// Effectively no refill within the test window.
	router.Use(RateLimit(0.001, 2))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
	assert.Equal(t, http.StatusTooManyRequests, codes[3])
}
