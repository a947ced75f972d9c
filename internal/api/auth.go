package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"podfeed/internal/store"

	"github.com/charmbracelet/log"
	"github.com/clerk/clerk-sdk-go/v2"
	clerkhttp "github.com/clerk/clerk-sdk-go/v2/http"
	"github.com/clerk/clerk-sdk-go/v2/user"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ctxKey string

const accountIDKey ctxKey = "accountID"

const (
	// AccountHeader carries the account id set by the upstream gateway.
	AccountHeader = "X-Account-Id"
	// ImportSecretHeader guards endpoints only job runners may call.
	ImportSecretHeader = "X-Import-Secret"
)

// ClerkSession verifies a clerk session token from the Authorization
// header and stores its claims on the request context.
func ClerkSession() gin.HandlerFunc {
	mw := clerkhttp.WithHeaderAuthorization()
	return func(c *gin.Context) {
		passed := false
		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}

// RequireAuth resolves the local account of a clerk session, creating it on
// first sight.
func RequireAuth(s store.Store, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := clerk.SessionClaimsFromContext(c.Request.Context())
		if !ok {
			AbortJSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "missing or invalid authentication")
			return
		}

		account, err := getOrCreateAccount(c.Request.Context(), s, logger, claims.Subject)
		if err != nil {
			logger.Error("provisioning account failed", "clerk_id", claims.Subject, "err", err)
			AbortJSONError(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to provision account")
			return
		}

		c.Set(string(accountIDKey), account.ID)
		c.Next()
	}
}

// RequireGatewayAccount trusts the account id the gateway put in
// AccountHeader.
func RequireGatewayAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := strings.TrimSpace(c.GetHeader(AccountHeader))
		if accountID == "" {
			AbortJSONError(c, http.StatusUnauthorized, ErrorCodeUnauthorized, "missing account")
			return
		}
		c.Set(string(accountIDKey), accountID)
		c.Next()
	}
}

// RequireImportSecret rejects calls that do not present the shared secret.
// An empty secret closes the endpoint.
func RequireImportSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(ImportSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			AbortJSONError(c, http.StatusForbidden, ErrorCodeForbidden, "invalid import secret")
			return
		}
		c.Next()
	}
}

func GetAccountID(c *gin.Context) (string, bool) {
	val, ok := c.Get(string(accountIDKey))
	if !ok {
		return "", false
	}
	accountID, ok := val.(string)
	return accountID, ok
}

func getOrCreateAccount(ctx context.Context, s store.Store, logger *log.Logger, clerkUserID string) (*store.Account, error) {
	a, err := s.GetAccountByProvider(ctx, "clerk", clerkUserID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup account by provider: %w", err)
	}

	clerkUser, err := user.Get(ctx, clerkUserID)
	if err != nil {
		return nil, fmt.Errorf("fetch clerk user: %w", err)
	}

	email := ""
	if len(clerkUser.EmailAddresses) > 0 {
		email = clerkUser.EmailAddresses[0].EmailAddress
	}
	if email == "" {
		return nil, fmt.Errorf("clerk user %s has no email address", clerkUserID)
	}

	provider := "clerk"
	now := time.Now()
	account := &store.Account{
		ID:              uuid.NewString(),
		Email:           email,
		AuthProvider:    &provider,
		ProviderSubject: &clerkUserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			// a concurrent request provisioned it first
			return s.GetAccountByProvider(ctx, "clerk", clerkUserID)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	logger.Info("provisioned new account", "id", account.ID, "clerk_id", clerkUserID)
	return account, nil
}
