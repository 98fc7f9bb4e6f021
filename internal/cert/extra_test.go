package cert

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExtra() Extra {
	return Extra{
		AuthorityID:           String("test_authority.near"),
		AuthorityName:         String("Test Authority"),
		Program:               String("PRG101"),
		ProgramName:           String("Program Name"),
		OriginalRecipientID:   String("original_recipient.near"),
		OriginalRecipientName: String("Original Recipient"),
		Valid:                 true,
	}
}

func TestExtraEncodeParse(t *testing.T) {
	in := testExtra()
	start := Nanos(1_650_000_000_000_000_000)
	in.ProgramStartDate = &start

	s, err := in.Encode()
	require.NoError(t, err)
	assert.Contains(t, s, `"program_start_date":"1650000000000000000"`)
	assert.Contains(t, s, `"memo":null`)

	out, err := ParseExtra(s)
	require.NoError(t, err)
	assert.Equal(t, "Test Authority", *out.AuthorityName)
	assert.Equal(t, "original_recipient.near", *out.OriginalRecipientID)
	assert.Equal(t, start, *out.ProgramStartDate)
	assert.Nil(t, out.ProgramEndDate)
	assert.Nil(t, out.Memo)
	assert.True(t, out.Valid)
}

func TestParseExtraAcceptsNumericDates(t *testing.T) {
	out, err := ParseExtra(`{"valid":false,"program_end_date":42}`)
	require.NoError(t, err)
	require.NotNil(t, out.ProgramEndDate)
	assert.Equal(t, Nanos(42), *out.ProgramEndDate)
	assert.False(t, out.Valid)
}

func TestParseExtraCorrupt(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"not json":     "{oops",
		"missing flag": `{"program":"CS101"}`,
		"bad account":  `{"valid":true,"authority_id":"Not Valid!"}`,
		"bad date":     `{"valid":true,"program_start_date":"soon"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseExtra(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
		})
	}
}

func TestExtraRecipient(t *testing.T) {
	e := testExtra()
	assert.Equal(t, "original_recipient.near", e.Recipient("receiver.near"))
	e.OriginalRecipientID = nil
	assert.Equal(t, "receiver.near", e.Recipient("receiver.near"))
}

func TestExtraValidateDates(t *testing.T) {
	e := testExtra()
	start, end := Nanos(10), Nanos(5)
	e.ProgramStartDate, e.ProgramEndDate = &start, &end
	assert.Error(t, e.Validate())
}

func TestNanosTime(t *testing.T) {
	ts := time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)
	n := NanosFromTime(ts)
	assert.True(t, n.Time().Equal(ts))
	assert.Equal(t, Nanos(0), NanosFromTime(time.Unix(-5, 0)))
}

func TestContractMetadataValidate(t *testing.T) {
	ok := ContractMetadata{Spec: MetadataSpec, Name: "Certifications", Symbol: "CERT"}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Spec = "nft-2.0.0"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Reference = "https://example.org/ref.json"
	assert.Error(t, bad.Validate())

	bad.ReferenceHash = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", 32)))
	assert.NoError(t, bad.Validate())

	bad.ReferenceHash = base64.StdEncoding.EncodeToString([]byte("short"))
	assert.Error(t, bad.Validate())
}
