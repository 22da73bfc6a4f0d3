// Copyright 2025 Quintet
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// actorHandler is a handler that additionally receives the acting
// identity for audit attribution
type actorHandler func(w http.ResponseWriter, r *http.Request, actor string)

// requireActor resolves the acting identity for mutating routes. With a
// JWT secret configured, a valid HMAC-signed bearer token is mandatory
// and the subject claim names the actor. Without a secret (development),
// the X-Actor-ID header is trusted and defaults to "anonymous".
//
// Whether the actor is ALLOWED to govern policy is decided a layer
// above, in the delegation RBAC; by the time a request reaches these
// routes that check has already passed.
func (s *Server) requireActor(next actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret == "" {
			actor := r.Header.Get("X-Actor-ID")
			if actor == "" {
				actor = "anonymous"
			}
			next(w, r, actor)
			return
		}

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			return
		}
		tokenString := strings.TrimPrefix(auth, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token claims"})
			return
		}
		actor, err := claims.GetSubject()
		if err != nil || actor == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "token has no subject"})
			return
		}

		next(w, r, actor)
	}
}
