package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/polybuild/internal/vcs"
)

func TestPayload_EncodeDecode(t *testing.T) {
	all := []vcs.Revision{
		{Name: "v1.0", Hash: "aaa", Kind: vcs.KindTag, Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Name: "main", Hash: "bbb", Kind: vcs.KindBranch, Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	p := DefaultData(all, all[1])

	encoded, err := p.Encode()
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, "main", decoded.Current.Name)
	require.Len(t, decoded.Revisions, 2)
	require.Equal(t, "v1.0", decoded.Revisions[0].Name)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode("not json")
	require.Error(t, err)
}

func TestWriteVersions(t *testing.T) {
	dir := t.TempDir()
	built := []vcs.Revision{{Name: "v1.0", Hash: "aaa", Kind: vcs.KindTag}}

	require.NoError(t, WriteVersions(dir, built))

	raw, err := os.ReadFile(filepath.Join(dir, VersionsFile))
	require.NoError(t, err)

	var parsed []vcs.Revision
	require.NoError(t, json.Unmarshal(raw, &parsed))
	require.Len(t, parsed, 1)
	require.Equal(t, "v1.0", parsed[0].Name)
}

func TestWriteVersions_EmptySetWritesEmptyList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteVersions(dir, []vcs.Revision{}))

	raw, err := os.ReadFile(filepath.Join(dir, VersionsFile))
	require.NoError(t, err)

	var parsed []vcs.Revision
	require.NoError(t, json.Unmarshal(raw, &parsed))
	require.Empty(t, parsed)
}
