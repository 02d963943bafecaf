package domain

import "time"

type PublishableKey struct {
	Key            string    `gorm:"primaryKey;column:publishable_key;size:128" json:"key"`
	OrgID          string    `gorm:"size:128;index;not null" json:"orgId"`
	TenantID       string    `gorm:"size:128;not null" json:"tenantId"`
	Environment    string    `gorm:"size:64;not null" json:"environment"`
	IsActive       bool      `gorm:"not null" json:"isActive"`
	AllowedDomains []string  `gorm:"serializer:json;type:text" json:"allowedDomains"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// KeyScope is what a validated publishable key authorises.
type KeyScope struct {
	OrgID       string `json:"orgId"`
	TenantID    string `json:"tenantId"`
	Environment string `json:"environment"`
}

// OrganizationTenant maps an identity-broker organization and environment to a tenant.
type OrganizationTenant struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID string    `gorm:"size:128;uniqueIndex:idx_org_env;not null" json:"organizationId"`
	Environment    string    `gorm:"size:64;uniqueIndex:idx_org_env;not null" json:"environment"`
	TenantID       string    `gorm:"size:128;not null" json:"tenantId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
