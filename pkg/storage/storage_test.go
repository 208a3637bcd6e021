package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinkSignerRoundTrip(t *testing.T) {
	signer := NewLinkSigner("secret", time.Hour)

	token, expiresAt, err := signer.Sign("security-events/report.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	name, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "security-events/report.csv", name)
}

func TestLinkSignerExpired(t *testing.T) {
	signer := NewLinkSigner("secret", -time.Minute)

	token, _, err := signer.Sign("security-events/report.csv")
	require.NoError(t, err)

	_, err = signer.Verify(token)
	require.Error(t, err)
}

func TestLinkSignerTamperedName(t *testing.T) {
	signer := NewLinkSigner("secret", time.Hour)

	token, _, err := signer.Sign("security-events/report.csv")
	require.NoError(t, err)

	parts := []byte(token)
	parts[len(parts)/2]++
	_, err = signer.Verify(string(parts))
	require.Error(t, err)
}

func TestArchivePutGetDelete(t *testing.T) {
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, archive.Put("security-events/report.csv", []byte("a,b\n1,2\n")))

	data, err := archive.Get("security-events/report.csv")
	require.NoError(t, err)
	require.Equal(t, []byte("a,b\n1,2\n"), data)

	require.NoError(t, archive.Delete("security-events/report.csv"))
	_, err = archive.Get("security-events/report.csv")
	require.Error(t, err)
}

func TestArchiveRejectsEscapingNames(t *testing.T) {
	archive, err := NewArchive(t.TempDir())
	require.NoError(t, err)

	require.Error(t, archive.Put("../outside.csv", []byte("x")))
	require.Error(t, archive.Put("/etc/passwd", []byte("x")))
}
