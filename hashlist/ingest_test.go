package hashlist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func hashBlob() string {
	return strings.Repeat("H", 20)
}

func TestParseRecordExecutable(t *testing.T) {
	msg := "s" + hashBlob() + "8 1234 0 0 755 42 0"
	e, err := ParseRecord(msg)
	require.NoError(t, err)
	require.Equal(t, NodeExecutable, e.Node)
	require.EqualValues(t, 1234, e.Ino)
	require.EqualValues(t, 0, e.UID)
	require.EqualValues(t, 0o755, e.Mode)
	require.EqualValues(t, 42, e.SrcID)
	require.Empty(t, e.WCreds)
}

func TestParseRecordWithCredentials(t *testing.T) {
	msg := "s" + hashBlob() + "8 1234 0 0 755 42 2 tcb 1 app 7"
	e, err := ParseRecord(msg)
	require.NoError(t, err)
	require.Len(t, e.WCreds, 2)
	require.Equal(t, CredentialPair{Type: "tcb", Value: 1}, e.WCreds[0])
	require.Equal(t, CredentialPair{Type: "app", Value: 7}, e.WCreds[1])
}

func TestParseRecordDedupesCredentials(t *testing.T) {
	msg := "s" + hashBlob() + "8 1234 0 0 755 42 2 tcb 1 tcb 1"
	e, err := ParseRecord(msg)
	require.NoError(t, err)
	require.Len(t, e.WCreds, 1)
}

func TestParseRecordShortTags(t *testing.T) {
	for _, tc := range []struct {
		tag  byte
		node NodeType
	}{
		{'x', NodeExempt},
		{'d', NodeImmutableDir},
		{'p', NodeProtectedDir},
	} {
		msg := string(tc.tag) + "8 1234 0 0 644 0 0"
		e, err := ParseRecord(msg)
		require.NoError(t, err, "tag %q", tc.tag)
		require.Equal(t, tc.node, e.Node)
	}
}

func TestParseRecordStaticDataTag(t *testing.T) {
	msg := "t" + hashBlob() + "8 1234 0 0 644 0 0"
	e, err := ParseRecord(msg)
	require.NoError(t, err)
	require.Equal(t, NodeStaticData, e.Node)
	require.EqualValues(t, 1234, e.Ino)
	require.Equal(t, hashBlob(), string(e.Hash[:]))
}

func TestParseRecordRejectsUnknownTag(t *testing.T) {
	_, err := ParseRecord("z8 1 0 0 644 0 0")
	require.Error(t, err)
}

func TestParseRecordRejectsTruncated(t *testing.T) {
	_, err := ParseRecord("s")
	require.Error(t, err)
}

func TestParseRecordRejectsBadCredCount(t *testing.T) {
	msg := "s" + hashBlob() + "8 1234 0 0 755 42 2 tcb 1"
	_, err := ParseRecord(msg)
	require.Error(t, err)
}

type stubSourceDefiner struct {
	id  int64
	err error
}

func (s stubSourceDefiner) DefineSource(name string) (int64, error) {
	return s.id, s.err
}

func TestParseLegacyExecutableRecord(t *testing.T) {
	msg := "a" + hashBlob() + "8 1234 0 0 755 origin-string"
	e, err := ParseLegacyExecutableRecord(msg, stubSourceDefiner{id: 99})
	require.NoError(t, err)
	require.Equal(t, NodeExecutable, e.Node)
	require.EqualValues(t, 99, e.SrcID)
}

func TestParseLegacyExecutableRecordRejectsNonATag(t *testing.T) {
	msg := "s" + hashBlob() + "8 1234 0 0 755 origin"
	_, err := ParseLegacyExecutableRecord(msg, stubSourceDefiner{id: 1})
	require.Error(t, err)
}

func TestDumpLine(t *testing.T) {
	e := Entry{Node: NodeExecutable, Ino: 7, SrcID: 1, UID: 0, GID: 0, Mode: 0o755}
	line := DumpLine(e)
	require.Contains(t, line, "ino=7")
	require.Contains(t, line, "s-")
}
