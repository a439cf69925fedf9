package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
)

// ----------------------------------------------------------------------
// Wire contracts shared by every endpoint
// ----------------------------------------------------------------------

// ErrorPayload is the body the API sends with a failing response.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Page is a paginated list response.
type Page[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// ----------------------------------------------------------------------
// Identity / Auth Structures
// ----------------------------------------------------------------------

// TokenPair is the credential pair issued by login and refresh.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// OAuth2 converts the pair to the token type used by the pipeline.
func (p TokenPair) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  p.Token,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
	}
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	TokenPair
	User User `json:"user"`
}

// User is a back-office operator account.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Roles    []string  `json:"roles"`
}

// Session describes the stored access credential without verifying it.
type Session struct {
	Subject   string
	Username  string
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ----------------------------------------------------------------------
// Customers
// ----------------------------------------------------------------------

type Customer struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Phone         string          `json:"phone,omitempty"`
	Address       string          `json:"address,omitempty"`
	CreditLimit   decimal.Decimal `json:"creditLimit"`
	CreditBalance decimal.Decimal `json:"creditBalance"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// AvailableCredit is the part of the credit limit not yet used.
func (c Customer) AvailableCredit() decimal.Decimal {
	return c.CreditLimit.Sub(c.CreditBalance)
}

// CustomerInput is the body of customer create and update calls.
type CustomerInput struct {
	Name        string          `json:"name"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone,omitempty"`
	Address     string          `json:"address,omitempty"`
	CreditLimit decimal.Decimal `json:"creditLimit"`
	Active      *bool           `json:"active,omitempty"`
}

type CustomerFilter struct {
	Search   string
	Active   *bool
	Page     int
	PageSize int
}

// Params renders the filter as query parameters; zero values are omitted.
func (f CustomerFilter) Params() map[string]string {
	params := pageParams(f.Page, f.PageSize)
	if f.Search != "" {
		params["search"] = f.Search
	}
	if f.Active != nil {
		params["active"] = strconv.FormatBool(*f.Active)
	}
	return params
}

// ----------------------------------------------------------------------
// Audit log
// ----------------------------------------------------------------------

type AuditEntry struct {
	ID         uuid.UUID              `json:"id"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource"`
	ResourceID string                 `json:"resourceId,omitempty"`
	UserID     uuid.UUID              `json:"userId"`
	Username   string                 `json:"username"`
	IPAddress  string                 `json:"ipAddress,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

type AuditFilter struct {
	UserID   string
	Action   string
	Resource string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Params renders the filter as query parameters; zero values are omitted.
func (f AuditFilter) Params() map[string]string {
	params := pageParams(f.Page, f.PageSize)
	if f.UserID != "" {
		params["userId"] = f.UserID
	}
	if f.Action != "" {
		params["action"] = f.Action
	}
	if f.Resource != "" {
		params["resource"] = f.Resource
	}
	if !f.From.IsZero() {
		params["from"] = f.From.UTC().Format(time.RFC3339)
	}
	if !f.To.IsZero() {
		params["to"] = f.To.UTC().Format(time.RFC3339)
	}
	return params
}

func pageParams(page, pageSize int) map[string]string {
	params := map[string]string{}
	if page > 0 {
		params["page"] = strconv.Itoa(page)
	}
	if pageSize > 0 {
		params["pageSize"] = strconv.Itoa(pageSize)
	}
	return params
}
