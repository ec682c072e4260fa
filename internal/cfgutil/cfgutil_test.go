// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want string
		err  bool
	}{
		{addr: "localhost", want: "localhost:8332"},
		{addr: "localhost:18443", want: "localhost:18443"},
		{addr: "::1", want: "[::1]:8332"},
		{addr: "[::1]:1234", want: "[::1]:1234"},
		{addr: "a:b:c:d]", err: true},
	}
	for _, test := range tests {
		got, err := NormalizeAddress(test.addr, "8332")
		if test.err {
			require.Error(t, err, test.addr)
			continue
		}
		require.NoError(t, err, test.addr)
		require.Equal(t, test.want, got)
	}
}

func TestFileExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "fedwallet.conf")

	exists, err := FileExists(path)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, os.WriteFile(path, nil, 0600))
	exists, err = FileExists(path)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCleanAndExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("FEDWALLET_TEST_DIR", "/tmp/fed")
	require.Equal(t, filepath.Join(home, "data"),
		CleanAndExpandPath("~/data/"))
	require.Equal(t, "/tmp/fed/logs",
		CleanAndExpandPath("$FEDWALLET_TEST_DIR/./logs"))
	require.Empty(t, CleanAndExpandPath(""))
}

func TestHexFlag(t *testing.T) {
	t.Parallel()

	var h HexFlag
	require.NoError(t, h.UnmarshalFlag("00ff"))
	require.Equal(t, HexFlag{0x00, 0xff}, h)

	s, err := h.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "00ff", s)

	require.Error(t, h.UnmarshalFlag("zz"))
}
