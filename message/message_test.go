package message

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTTLBoundaries(t *testing.T) {
	assert := assert.New(t)
	assert.True(ValidateTTL(10*time.Second), "lower bound is inclusive")
	assert.True(ValidateTTL(14*24*time.Hour), "upper bound is inclusive")
	assert.True(ValidateTTL(time.Hour))
	assert.False(ValidateTTL(10*time.Second-time.Millisecond))
	assert.False(ValidateTTL(14*24*time.Hour+time.Millisecond))
	assert.False(ValidateTTL(0))
	assert.False(ValidateTTL(-time.Hour))
}

func TestValidateTimestamp(t *testing.T) {
	assert := assert.New(t)
	now := time.Now()
	assert.True(ValidateTimestamp(now, time.Minute), "now is valid")
	assert.True(ValidateTimestamp(now.Add(5*time.Second), time.Minute), "small clock skew is tolerated")
	assert.False(ValidateTimestamp(now.Add(-time.Hour), time.Minute), "already expired")
	assert.False(ValidateTimestamp(now.Add(time.Hour), time.Minute), "too far in the future")
	assert.True(ValidateTimestamp(now.Add(-time.Hour), 2*time.Hour), "old but still alive")
}

func TestComputeMessageHashDeterministic(t *testing.T) {
	parts := [][]byte{[]byte("1600000000000"), []byte("86400000"), []byte("05abc"), []byte("data")}
	h1 := ComputeMessageHash(parts, true)
	h2 := ComputeMessageHash(parts, true)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 128)
	assert.Len(t, ComputeMessageHash(parts, false), 64)
}

func TestComputeMessageHashOrderSensitive(t *testing.T) {
	a := [][]byte{[]byte("1600000000000"), []byte("86400000"), []byte("05abc"), []byte("data")}
	b := [][]byte{[]byte("86400000"), []byte("1600000000000"), []byte("05abc"), []byte("data")}
	assert.NotEqual(t, ComputeMessageHash(a, true), ComputeMessageHash(b, true))
}

func TestComputeMessageHashKnownValue(t *testing.T) {
	// sha512("abc")
	expected := "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a" +
		"2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"
	assert.Equal(t, expected, ComputeMessageHash([][]byte{[]byte("a"), []byte("bc")}, true))
}

func TestParseUserPubkey(t *testing.T) {
	UseTestnet(false)
	defer UseTestnet(false)

	valid := "05" + strings.Repeat("ab", 32)
	pk, err := ParseUserPubkey(valid)
	require.NoError(t, err)
	assert.Equal(t, valid, pk.String())
	assert.Equal(t, strings.Repeat("ab", 32), pk.Key())

	_, err = ParseUserPubkey(valid[:10])
	assert.ErrorIs(t, err, ErrPubkeyLength)

	UseTestnet(true)
	_, err = ParseUserPubkey(valid)
	assert.ErrorIs(t, err, ErrPubkeyLength)
	pk, err = ParseUserPubkey(strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 32), pk.Key())
}

func TestNewItem(t *testing.T) {
	UseTestnet(false)
	pk, err := ParseUserPubkey("05" + strings.Repeat("cd", 32))
	require.NoError(t, err)
	ts := time.UnixMilli(1600000000000)
	item := NewItem(pk, "hello", time.Hour, ts)

	assert := assert.New(t)
	assert.Equal(ts.Add(time.Hour), item.Expiration)
	assert.Equal(ComputeMessageHash([][]byte{
		[]byte("1600000000000"), []byte("3600000"), []byte(pk.String()), []byte("hello"),
	}, true), item.Hash)
}

func TestObfuscate(t *testing.T) {
	assert.Equal(t, "05...xyz", Obfuscate("05abcdefxyz"))
	assert.Equal(t, "abc", Obfuscate("abc"))
}
