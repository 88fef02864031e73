package qrtoken

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("org-secret")

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		student string
		org     string
	}{
		{"S1", "O1"},
		{"2024-00017", "CCS"},
		{"a-b-c", "org_1"},
		{"ÜNI", "x"},
	}
	for _, tc := range cases {
		t.Run(tc.student, func(t *testing.T) {
			raw, err := Encode(tc.student, tc.org, testSecret)
			require.NoError(t, err)

			tok, err := Decode(raw)
			require.NoError(t, err)
			assert.Equal(t, tc.student, tok.StudentExternalID)
			assert.Equal(t, tc.org, tok.OrganizationID)
			assert.Len(t, tok.Tag, TagLength)
			assert.True(t, tok.Validate(testSecret))
			assert.Equal(t, raw, tok.String())
		})
	}
}

func TestEncode_RejectsDelimiterInOrganization(t *testing.T) {
	_, err := Encode("S1", "O-1", testSecret)
	assert.ErrorIs(t, err, ErrReservedDelimiter)
}

func TestEncode_RequiresSecret(t *testing.T) {
	_, err := Encode("S1", "O1", nil)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{"", "S1", "S1-O1", "S1--tag", "-O1-tag", "S1-O1-"} {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ErrMalformed, "raw=%q", raw)
	}
}

func TestDecode_KeepsLegacyTag(t *testing.T) {
	tok, err := Decode("S1-O1-ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, Token{StudentExternalID: "S1", OrganizationID: "O1", Tag: "ab12cd34"}, tok)
	assert.False(t, tok.Validate(testSecret), "legacy tags are not HMAC tags")
}

func TestVerify_DetectsTampering(t *testing.T) {
	raw, err := Encode("S1", "O1", testSecret)
	require.NoError(t, err)
	tok, err := Decode(raw)
	require.NoError(t, err)

	forged := tok
	forged.StudentExternalID = "S2"
	assert.False(t, forged.Validate(testSecret))
	assert.False(t, tok.Validate([]byte("other-secret")))
	assert.False(t, Verify(tok.Payload(), tok.Tag, nil))
}

func TestKeyring_DerivesDistinctSecrets(t *testing.T) {
	k, err := NewKeyring([]byte("root"))
	require.NoError(t, err)

	a, err := k.SecretFor("O1", "")
	require.NoError(t, err)
	again, err := k.SecretFor("O1", "")
	require.NoError(t, err)
	b, err := k.SecretFor("O2", "")
	require.NoError(t, err)

	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)

	own, err := k.SecretFor("O1", "stored")
	require.NoError(t, err)
	assert.Equal(t, []byte("stored"), own)
}

func TestKeyring_RequiresRoot(t *testing.T) {
	_, err := NewKeyring(nil)
	assert.Error(t, err)

	k, err := NewKeyring([]byte("root"))
	require.NoError(t, err)
	_, err = k.SecretFor("  ", "")
	assert.Error(t, err)
}
