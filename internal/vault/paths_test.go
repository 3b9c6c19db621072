package vault

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRel(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "simple", in: "docs/a.txt", want: "docs/a.txt"},
		{name: "backslashes", in: `docs\sub\a.txt`, want: "docs/sub/a.txt"},
		{name: "dot segments", in: "docs/./a.txt", want: "docs/a.txt"},
		{name: "dots inside file name", in: "docs/notes..txt", want: "docs/notes..txt"},
		{name: "inner dotdot resolving inside", in: "docs/sub/../a.txt", want: "docs/a.txt"},
		{name: "leading dotdot", in: "../a.txt", wantErr: ErrPathEscapesRoot},
		{name: "escaping dotdot", in: "docs/../../a.txt", wantErr: ErrPathEscapesRoot},
		{name: "absolute", in: "/etc/passwd", wantErr: ErrPathEscapesRoot},
		{name: "empty", in: "", wantErr: ErrInvalidPath},
		{name: "nul byte", in: "a\x00b", wantErr: ErrInvalidChars},
		{name: "wildcard", in: "docs/*.txt", wantErr: ErrInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRel(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRoundTrip(t *testing.T) {
	root := t.TempDir()

	for _, rel := range []string{"a.txt", "docs/a.txt", "docs/sub/deep/a.bin", "docs/./b.txt"} {
		norm, err := NormalizeRel(rel)
		require.NoError(t, err)

		full := ResolveFull(root, norm)
		back, err := ResolveRel(root, full)
		require.NoError(t, err)
		assert.Equal(t, norm, back, "round trip for %q", rel)
	}
}

func TestResolveRelOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()

	_, err := ResolveRel(root, filepath.Join(other, "a.txt"))
	require.ErrorIs(t, err, ErrOutsideRoot)

	_, err = ResolveRel(root, filepath.Dir(root))
	require.ErrorIs(t, err, ErrOutsideRoot)
}

func TestValidateRoot(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		dir := t.TempDir()
		got, err := ValidateRoot(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	})

	t.Run("protected", func(t *testing.T) {
		_, err := ValidateRoot("/usr/local/share")
		require.ErrorIs(t, err, ErrProtectedDir)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ValidateRoot("")
		require.ErrorIs(t, err, ErrInvalidPath)
	})
}
