package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ServiceType identifies a third-party integration whose credentials the
// vault stores.
type ServiceType string

const (
	ServiceDockerHub  ServiceType = "dockerhub"
	ServiceGitHub     ServiceType = "github"
	ServiceJenkins    ServiceType = "jenkins"
	ServiceTerraform  ServiceType = "terraform"
	ServiceAnsible    ServiceType = "ansible"
	ServiceKubernetes ServiceType = "kubernetes"
)

// CredentialSchema lists the payload field names a service type accepts.
type CredentialSchema struct {
	Required []string
	Optional []string
}

var credentialSchemas = map[ServiceType]CredentialSchema{
	ServiceDockerHub:  {Required: []string{"username", "token"}},
	ServiceGitHub:     {Required: []string{"token"}, Optional: []string{"username"}},
	ServiceJenkins:    {Required: []string{"url", "username", "token"}},
	ServiceTerraform:  {Required: []string{"organization", "token"}, Optional: []string{"address"}},
	ServiceAnsible:    {Required: []string{"url", "username", "password"}},
	ServiceKubernetes: {Required: []string{"kubeconfig"}, Optional: []string{"context", "namespace"}},
}

// ServiceTypes returns every known service type in stable order.
func ServiceTypes() []ServiceType {
	out := make([]ServiceType, 0, len(credentialSchemas))
	for st := range credentialSchemas {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseServiceType accepts the lowercase name of a known service.
func ParseServiceType(s string) (ServiceType, bool) {
	st := ServiceType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := credentialSchemas[st]
	return st, ok
}

// Schema returns the payload schema for st.
func (st ServiceType) Schema() (CredentialSchema, bool) {
	s, ok := credentialSchemas[st]
	return s, ok
}

// ValidatePayload checks payload against the schema of st: every required
// field present and non-blank, no field outside required+optional.
func (st ServiceType) ValidatePayload(payload map[string]string) error {
	schema, ok := credentialSchemas[st]
	if !ok {
		return fmt.Errorf("unknown service type %q", st)
	}
	allowed := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for _, f := range schema.Required {
		allowed[f] = true
		if strings.TrimSpace(payload[f]) == "" {
			return fmt.Errorf("%s: field %q is required", st, f)
		}
	}
	for _, f := range schema.Optional {
		allowed[f] = true
	}
	var unknown []string
	for f := range payload {
		if !allowed[f] {
			unknown = append(unknown, f)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%s: unknown field(s) %s", st, strings.Join(unknown, ", "))
	}
	return nil
}

// ServiceCredential is a decrypted `service_credentials` row. At most one
// exists per (AccountID, ServiceType).
type ServiceCredential struct {
	ID          uint64
	AccountID   uint64
	ServiceType ServiceType
	Payload     map[string]string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastSync    *time.Time
}

// Meta drops the secret payload.
func (c ServiceCredential) Meta() CredentialMeta {
	return CredentialMeta{
		ServiceType: c.ServiceType,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		LastSync:    c.LastSync,
	}
}

// CredentialMeta is what listings expose: never the secret.
type CredentialMeta struct {
	ServiceType ServiceType `json:"service_type"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	LastSync    *time.Time  `json:"last_sync,omitempty"`
}

// SealedCredential is a `service_credentials` row as stored, with the
// payload still encrypted.
type SealedCredential struct {
	ID          uint64      // service_credentials.id
	AccountID   uint64      // service_credentials.account_id
	ServiceType ServiceType // service_credentials.service_type
	Secret      []byte      // service_credentials.secret
	IsActive    bool        // service_credentials.is_active
	CreatedAt   time.Time   // service_credentials.created_at
	UpdatedAt   time.Time   // service_credentials.updated_at
	LastSync    *time.Time  // service_credentials.last_sync (nullable)
}
