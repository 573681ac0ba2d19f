package metadata

import (
	"encoding/json"
	"fmt"
	"time"

	id "unum/pkg/domain"
	dErrors "unum/pkg/domain-errors"
)

// wireV10 is the frozen 1.0 shape. Field meanings never change; newer
// schemas add fields instead of repurposing these.
type wireV10 struct {
	Version    string `json:"version"`
	DID        string `json:"did"`
	Controller string `json:"controller"`
}

type wireV11 struct {
	Version     string     `json:"version"`
	DID         string     `json:"did"`
	Controllers []string   `json:"controllers"`
	EnrolledAt  time.Time  `json:"enrolledAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	Sequence    int        `json:"sequence"`
}

// Marshal encodes a document in its own schema's wire shape.
func Marshal(doc Document) ([]byte, error) {
	switch doc.Version {
	case V1_0:
		if len(doc.Controllers) != 1 {
			return nil, versionMismatch("schema 1.0 document must carry exactly one controller")
		}
		return json.Marshal(wireV10{
			Version:    string(V1_0),
			DID:        doc.DID.String(),
			Controller: doc.Controllers[0].String(),
		})
	case V1_1:
		controllers := make([]string, len(doc.Controllers))
		for i, c := range doc.Controllers {
			controllers[i] = c.String()
		}
		return json.Marshal(wireV11{
			Version:     string(V1_1),
			DID:         doc.DID.String(),
			Controllers: controllers,
			EnrolledAt:  doc.EnrolledAt.UTC(),
			RevokedAt:   doc.RevokedAt,
			Sequence:    doc.Sequence,
		})
	default:
		return nil, versionMismatch("unknown schema version %q", doc.Version)
	}
}

// Parse decodes any schema version ever written. Old versions stay
// parseable forever; unknown future versions are rejected loudly rather
// than half-read.
func Parse(data []byte) (Document, error) {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Document{}, dErrors.Wrap(err, dErrors.CodeValidation, "metadata document is not valid JSON")
	}

	switch SchemaVersion(probe.Version) {
	case V1_0:
		var w wireV10
		if err := json.Unmarshal(data, &w); err != nil {
			return Document{}, dErrors.Wrap(err, dErrors.CodeValidation, "malformed 1.0 document")
		}
		if w.DID == "" || w.Controller == "" {
			return Document{}, versionMismatch("1.0 document missing did or controller")
		}
		return Document{
			Version:     V1_0,
			DID:         id.DID(w.DID),
			Controllers: []id.ControllerID{id.ControllerID(w.Controller)},
			Sequence:    1,
		}, nil
	case V1_1:
		var w wireV11
		if err := json.Unmarshal(data, &w); err != nil {
			return Document{}, dErrors.Wrap(err, dErrors.CodeValidation, "malformed 1.1 document")
		}
		if w.DID == "" || len(w.Controllers) == 0 {
			return Document{}, versionMismatch("1.1 document missing did or controllers")
		}
		controllers := make([]id.ControllerID, len(w.Controllers))
		for i, c := range w.Controllers {
			controllers[i] = id.ControllerID(c)
		}
		seq := w.Sequence
		if seq == 0 {
			seq = 1
		}
		var revokedAt *time.Time
		if w.RevokedAt != nil {
			t := w.RevokedAt.UTC()
			revokedAt = &t
		}
		return Document{
			Version:     V1_1,
			DID:         id.DID(w.DID),
			Controllers: controllers,
			EnrolledAt:  w.EnrolledAt.UTC(),
			RevokedAt:   revokedAt,
			Sequence:    seq,
		}, nil
	default:
		return Document{}, versionMismatch("unsupported schema version %q", probe.Version)
	}
}

// MustMarshal is a test helper style convenience for call sites that have
// already validated the document through Build.
func MustMarshal(doc Document) []byte {
	data, err := Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("marshal metadata document: %v", err))
	}
	return data
}
