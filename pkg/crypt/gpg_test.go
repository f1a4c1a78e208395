package crypt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGPG stands in for the gpg binary: it copies --output from the last
// positional argument, exercising the batch walk without real crypto.
const fakeGPG = `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
  last="$a"
done
cp "$last" "$out"
`

func writeFakeGPG(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fake-gpg")
	require.NoError(t, os.WriteFile(p, []byte(fakeGPG), 0755))
	return p
}

func TestEncryptDir_ProducesSuffixedSiblings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.dat"), []byte("payload"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "already.gpg"), []byte("x"), 0644))

	g := &GPG{Recipient: "ops@example.com", Binary: writeFakeGPG(t)}
	code := g.EncryptDir(context.Background(), dir)
	assert.Zero(t, code)

	b, err := os.ReadFile(filepath.Join(dir, "result.dat"+Suffix))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	// Already-encrypted artifacts are not re-encrypted.
	_, err = os.Stat(filepath.Join(dir, "already.gpg"+Suffix))
	assert.True(t, os.IsNotExist(err))
}

func TestDecryptDir_StripsSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input.dat"+Suffix), []byte("cipher"), 0644))

	g := &GPG{Binary: writeFakeGPG(t)}
	code := g.DecryptDir(context.Background(), dir)
	assert.Zero(t, code)

	b, err := os.ReadFile(filepath.Join(dir, "input.dat"))
	require.NoError(t, err)
	assert.Equal(t, "cipher", string(b))
}

func TestRun_MissingBinaryReportsFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.dat"), []byte("payload"), 0644))

	g := &GPG{Recipient: "ops@example.com", Binary: filepath.Join(t.TempDir(), "no-such-gpg")}
	code := g.EncryptDir(context.Background(), dir)
	assert.NotZero(t, code)
}
