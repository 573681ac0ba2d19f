package handler

import (
	"encoding/base64"
	"strings"

	"unum/internal/metadata"
	id "unum/pkg/domain"
	dErrors "unum/pkg/domain-errors"
)

// EnrollRequest is the HTTP request body for POST /identities.
type EnrollRequest struct {
	Commitment    string   `json:"commitment"`
	Network       string   `json:"network"`
	Controllers   []string `json:"controllers"`
	SchemaVersion string   `json:"schemaVersion,omitempty"`

	// Parsed values (populated by Validate)
	parsedCommitment  []byte
	parsedControllers []id.ControllerID
	parsedVersion     metadata.SchemaVersion
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *EnrollRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	r.Commitment = strings.TrimSpace(r.Commitment)
	if r.Commitment == "" {
		return dErrors.New(dErrors.CodeValidation, "commitment is required")
	}
	raw, err := base64.StdEncoding.DecodeString(r.Commitment)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "commitment must be base64")
	}
	r.parsedCommitment = raw

	r.Network = strings.TrimSpace(r.Network)
	if r.Network == "" {
		return dErrors.New(dErrors.CodeValidation, "network is required")
	}

	controllers, err := parseControllers(r.Controllers)
	if err != nil {
		return err
	}
	r.parsedControllers = controllers

	switch r.SchemaVersion {
	case "":
		r.parsedVersion = metadata.CurrentVersion
	case string(metadata.V1_0):
		r.parsedVersion = metadata.V1_0
	case string(metadata.V1_1):
		r.parsedVersion = metadata.V1_1
	default:
		return dErrors.New(dErrors.CodeValidation, "unknown schemaVersion")
	}

	return nil
}

// ParsedCommitment returns the decoded commitment bytes.
func (r *EnrollRequest) ParsedCommitment() []byte {
	return r.parsedCommitment
}

// ParsedControllers returns the validated controller IDs.
func (r *EnrollRequest) ParsedControllers() []id.ControllerID {
	return r.parsedControllers
}

// ParsedVersion returns the requested schema version.
func (r *EnrollRequest) ParsedVersion() metadata.SchemaVersion {
	return r.parsedVersion
}

// RevokeRequest is the HTTP request body for POST /identities/{did}/revoke.
type RevokeRequest struct {
	Reason string `json:"reason"`
}

// Validate implements the Validatable interface.
func (r *RevokeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Reason) > 500 {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 500 characters")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

// RotateRequest is the HTTP request body for POST /identities/{did}/controllers.
type RotateRequest struct {
	Controllers []string `json:"controllers"`

	parsedControllers []id.ControllerID
}

// Validate implements the Validatable interface.
func (r *RotateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	controllers, err := parseControllers(r.Controllers)
	if err != nil {
		return err
	}
	r.parsedControllers = controllers
	return nil
}

// ParsedControllers returns the validated controller IDs.
func (r *RotateRequest) ParsedControllers() []id.ControllerID {
	return r.parsedControllers
}

func parseControllers(values []string) ([]id.ControllerID, error) {
	if len(values) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one controller is required")
	}
	if len(values) > 16 {
		return nil, dErrors.New(dErrors.CodeValidation, "at most 16 controllers are allowed")
	}
	out := make([]id.ControllerID, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "controller must not be empty")
		}
		if len(v) > 256 {
			return nil, dErrors.New(dErrors.CodeValidation, "controller must be at most 256 characters")
		}
		out = append(out, id.ControllerID(v))
	}
	return out, nil
}
