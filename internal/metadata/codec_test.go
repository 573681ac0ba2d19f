package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "unum/pkg/domain"
)

func TestRoundTrip_V11(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 123456789, time.UTC)
	doc, err := Build(testDID, []id.ControllerID{"addr1_alpha", "addr1_beta"}, at, V1_1)
	require.NoError(t, err)

	data, err := Marshal(doc)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, doc, parsed, "every field of a 1.1 document must survive the round trip")
}

func TestRoundTrip_V11_Revoked(t *testing.T) {
	doc, err := Build(testDID, []id.ControllerID{"addr1_alpha"}, enrolledAt, V1_1)
	require.NoError(t, err)
	revoked, err := Revoke(doc, enrolledAt.Add(time.Hour))
	require.NoError(t, err)

	data, err := Marshal(revoked)
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, revoked, parsed)
	require.NotNil(t, parsed.RevokedAt)
}

func TestParse_LegacyV10Forever(t *testing.T) {
	// A 1.0 payload as anchored in the wallet era. This exact string must
	// stay parseable for the lifetime of the system.
	legacy := []byte(`{"version":"1.0","did":"did:cardano:mainnet:zLegacy111","controller":"addr1_wallet"}`)

	doc, err := Parse(legacy)
	require.NoError(t, err)
	assert.Equal(t, V1_0, doc.Version)
	assert.Equal(t, id.DID("did:cardano:mainnet:zLegacy111"), doc.DID)
	assert.Equal(t, []id.ControllerID{"addr1_wallet"}, doc.Controllers)
	assert.Equal(t, 1, doc.Sequence)
	assert.True(t, doc.EnrolledAt.IsZero(), "1.0 has no enrollment slot")
}

func TestMarshal_V10WireShape(t *testing.T) {
	doc, err := Build(testDID, []id.ControllerID{"addr1_wallet"}, enrolledAt, V1_0)
	require.NoError(t, err)

	data, err := Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":"1.0","did":"`+testDID.String()+`","controller":"addr1_wallet"}`, string(data))
}

func TestParse_RejectsUnknownVersion(t *testing.T) {
	_, err := Parse([]byte(`{"version":"3.0","did":"did:cardano:mainnet:zX"}`))
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestParse_RejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"version":`,
		"missing did v10":    `{"version":"1.0","controller":"addr1"}`,
		"missing ctrls v11":  `{"version":"1.1","did":"did:cardano:mainnet:zX","controllers":[]}`,
		"missing version":    `{"did":"did:cardano:mainnet:zX"}`,
	}
	for name, payload := range cases {
		_, err := Parse([]byte(payload))
		assert.Error(t, err, name)
	}
}
