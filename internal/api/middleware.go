/**
 * @description
 * Authentication and authorization middleware for the campaign-service. Access tokens
 * are HS256 JWTs issued by the auth service and signed with AT_SECRET; the `sub` claim
 * is the user or agent id and `role` selects what the caller may do.
 */
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kaleabSolomon/sewlesew-backend/internal/app"
	"github.com/kaleabSolomon/sewlesew-backend/internal/domain"
)

// Roles carried in the access token.
const (
	RoleUser             = "USER"
	RoleCallCenterAgent  = "CALLCENTERAGENT"
	RoleCampaignReviewer = "CAMPAIGNREVIEWER"
	RoleAdmin            = "ADMIN"
	RoleSuperAdmin       = "SUPERADMIN"
)

type contextKey string

const principalContextKey = contextKey("principal")

// Principal is the authenticated caller.
type Principal struct {
	ID         uuid.UUID
	Role       string
	Identifier string
}

// Actor converts the principal into the lifecycle actor. Call center agents own
// campaigns as agents; reviewers and admins act on any campaign.
func (p Principal) Actor() app.Actor {
	kind := domain.OwnerKindUser
	if p.Role == RoleCallCenterAgent {
		kind = domain.OwnerKindAgent
	}
	return app.Actor{Kind: kind, ID: p.ID, Privileged: isPrivileged(p.Role)}
}

func isPrivileged(role string) bool {
	switch role {
	case RoleCampaignReviewer, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

func parseAccessToken(tokenString, secret string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, err
	}
	if !token.Valid {
		return Principal{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("invalid token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, fmt.Errorf("subject not found in token")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return Principal{}, fmt.Errorf("subject is not a valid id")
	}

	role, _ := claims["role"].(string)
	identifier, _ := claims["identifier"].(string)
	if role == "" {
		role = RoleUser
	}
	return Principal{ID: id, Role: strings.ToUpper(role), Identifier: identifier}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return "", false
	}
	return tokenString, true
}

// AccessTokenMiddleware requires a valid access token and injects the principal.
func AccessTokenMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			principal, err := parseAccessToken(tokenString, secret)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, fmt.Sprintf("Invalid token: %v", err))
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAccessTokenMiddleware injects the principal when a valid token is present
// and lets anonymous requests through otherwise.
func OptionalAccessTokenMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenString, ok := bearerToken(r); ok {
				if principal, err := parseAccessToken(tokenString, secret); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), principalContextKey, principal))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles rejects callers whose role is not listed.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if _, ok := allowed[principal.Role]; !ok {
				respondWithError(w, http.StatusForbidden, "Forbidden resource")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				respondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext retrieves the authenticated caller from the request context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(Principal)
	return principal, ok
}
