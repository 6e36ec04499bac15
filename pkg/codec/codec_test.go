package codec_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erprx/datastore/pkg/codec"
	"github.com/erprx/datastore/pkg/errs"
)

func key(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestRoundTrip(t *testing.T) {
	c := codec.New(codec.NopCompressor{}, nil)
	k := key(t)

	plaintext := []byte(`{"kvnr":"X123456789"}`)
	blob, err := c.Encode(plaintext, k, codec.DictDefaultJSON)
	require.NoError(t, err)

	got, err := c.Decode(blob, k, codec.DictDefaultJSON)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestVersionRejected(t *testing.T) {
	c := codec.New(codec.NopCompressor{}, nil)
	k := key(t)

	blob, err := c.Encode([]byte("hello"), k, codec.DictNone)
	require.NoError(t, err)

	blob[0] = 7
	_, err = c.Decode(blob, k, codec.DictNone)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InternalServerError))
}

func TestTamperingDetected(t *testing.T) {
	c := codec.New(codec.NopCompressor{}, nil)
	k := key(t)

	blob, err := c.Encode([]byte("hello world"), k, codec.DictNone)
	require.NoError(t, err)

	tampered := bytes.Clone(blob)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = c.Decode(tampered, k, codec.DictNone)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CryptoFailure))
}

func TestShortBlobRejected(t *testing.T) {
	c := codec.New(codec.NopCompressor{}, nil)
	k := key(t)

	_, err := c.Decode(make([]byte, 10), k, codec.DictNone)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InternalServerError))
}

func TestWrongKeyFailsAuth(t *testing.T) {
	c := codec.New(codec.NopCompressor{}, nil)
	blob, err := c.Encode([]byte("secret"), key(t), codec.DictNone)
	require.NoError(t, err)

	_, err = c.Decode(blob, key(t), codec.DictNone)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CryptoFailure))
}

func TestFreshIVPerCall(t *testing.T) {
	c := codec.New(codec.NopCompressor{}, nil)
	k := key(t)

	a, err := c.Encode([]byte("same plaintext"), k, codec.DictNone)
	require.NoError(t, err)
	b, err := c.Encode([]byte("same plaintext"), k, codec.DictNone)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "IV must be fresh per call")
}
