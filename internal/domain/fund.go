package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fund is an investment vehicle whose ownership is split into quotas.
type Fund struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	InceptionDate     time.Time       `json:"inceptionDate"`
	InitialQuotaPrice decimal.Decimal `json:"initialQuotaPrice"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Role distinguishes fund operators from investors.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// LegacyMD5Prefix marks credential hashes imported from installations that stored
// unsalted MD5 hex digests.
const LegacyMD5Prefix = "md5:"

// Client is an investor. Clients are shared by every fund.
type Client struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	CredentialHash string    `json:"-"`
	Role           Role      `json:"role"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsAdmin reports whether the client may operate funds.
func (c Client) IsAdmin() bool {
	return c.Role == RoleAdmin
}
