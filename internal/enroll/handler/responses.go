package handler

import (
	"time"

	"unum/internal/registry"
)

// EnrollResponse is the HTTP response for POST /identities.
type EnrollResponse struct {
	DID string `json:"did"`
}

// IdentityResponse is the HTTP response for GET /identities/{did}.
type IdentityResponse struct {
	DID           string     `json:"did"`
	State         string     `json:"state"`
	Controllers   []string   `json:"controllers"`
	SchemaVersion string     `json:"schemaVersion"`
	EnrolledAt    time.Time  `json:"enrolledAt"`
	RevokedAt     *time.Time `json:"revokedAt,omitempty"`
	Sequence      int        `json:"sequence"`
}

// FromIdentity converts a registry record to an HTTP response.
func FromIdentity(identity *registry.Identity) *IdentityResponse {
	controllers := make([]string, len(identity.Controllers))
	for i, c := range identity.Controllers {
		controllers[i] = c.String()
	}
	return &IdentityResponse{
		DID:           identity.DID.String(),
		State:         string(identity.State),
		Controllers:   controllers,
		SchemaVersion: string(identity.SchemaVersion),
		EnrolledAt:    identity.EnrolledAt,
		RevokedAt:     identity.RevokedAt,
		Sequence:      identity.DocSequence,
	}
}
