package hashlist

import (
	"fmt"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"

	"github.com/nestybox/aegisvalidator/formatter"
)

// shortMessageMinLength is the minimum length of a non-hash tagged
// message ("x"/"d"/"p"), matching SHORT_MESSAGE_MIN_LENGTH.
const shortMessageMinLength = 14

// hashMessageMinLength is the minimum length of a hash-bearing message
// ("a"/"s"/"t"), matching HASH_MESSAGE_MIN_LENGTH: tag + 20-byte hash +
// five bytes of field tail. A tail too short to hold every numeric field
// passes this check and is then rejected by field parsing.
const hashMessageMinLength = 1 + 20 + 5

// SourceDefiner resolves a free-text source-id string (legacy 'a' tag) to
// a numeric source identity, delegating to the external credential
// service rather than reimplementing namespace management locally.
type SourceDefiner interface {
	DefineSource(name string) (int64, error)
}

// ParseRecord parses one numeric-format ingestion record:
//
//	<tag><20-byte hash>device ino uid gid mode src_id ncreds [cred_type cred_value]*\n
//
// 's' (executable) and 't' (static data) both carry the 20-byte digest;
// legacy 'a' is handled separately by ParseLegacyExecutableRecord since
// it carries a free-text source-id instead of a numeric one. Tags 'x'
// (dynamic data), 'd' (immutable-directory marker), and 'p' (protected
// directory) carry no digest beyond the common numeric fields.
func ParseRecord(msg string) (Entry, error) {
	if len(msg) == 0 {
		return Entry{}, fmt.Errorf("hashlist: empty message")
	}

	tag := msg[0]
	switch tag {
	case 's':
		return parseHashRecord(msg, NodeExecutable)
	case 't':
		return parseHashRecord(msg, NodeStaticData)
	case 'x':
		return parseShortRecord(msg, NodeExempt)
	case 'd':
		return parseShortRecord(msg, NodeImmutableDir)
	case 'p':
		return parseShortRecord(msg, NodeProtectedDir)
	default:
		return Entry{}, fmt.Errorf("hashlist: unknown tag %q", tag)
	}
}

func parseHashRecord(msg string, node NodeType) (Entry, error) {
	if len(msg) < hashMessageMinLength {
		return Entry{}, fmt.Errorf("hashlist: message too short for tag %q", msg[0])
	}
	rest := msg[1:]
	if len(rest) < 20 {
		return Entry{}, fmt.Errorf("hashlist: truncated hash")
	}
	var hash [20]byte
	copy(hash[:], rest[:20])
	rest = rest[20:]

	e, err := parseCommonFields(rest)
	if err != nil {
		return Entry{}, err
	}
	e.Node = node
	e.Hash = hash
	return e, nil
}

func parseShortRecord(msg string, node NodeType) (Entry, error) {
	if len(msg) < shortMessageMinLength {
		return Entry{}, fmt.Errorf("hashlist: message too short for tag %q", msg[0])
	}
	e, err := parseCommonFields(msg[1:])
	if err != nil {
		return Entry{}, err
	}
	e.Node = node
	return e, nil
}

// parseCommonFields parses "device ino uid gid mode src_id ncreds
// [cred_type cred_value]*", the numeric tail shared by every tag.
func parseCommonFields(rest string) (Entry, error) {
	fields := strings.Fields(rest)
	if len(fields) < 7 {
		return Entry{}, fmt.Errorf("hashlist: expected at least 7 numeric fields, got %d", len(fields))
	}

	device, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad device: %w", err)
	}
	ino, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad ino: %w", err)
	}
	uid, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad uid: %w", err)
	}
	gid, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad gid: %w", err)
	}
	mode, err := strconv.ParseUint(fields[4], 8, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad mode: %w", err)
	}
	srcID, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad src_id: %w", err)
	}
	ncreds, err := strconv.Atoi(fields[6])
	if err != nil || ncreds < 0 {
		return Entry{}, fmt.Errorf("hashlist: bad ncreds: %q", fields[6])
	}

	wantFields := 7 + ncreds*2
	if len(fields) < wantFields {
		return Entry{}, fmt.Errorf("hashlist: declared %d creds but only %d fields follow", ncreds, len(fields)-7)
	}

	creds := make([]CredentialPair, 0, ncreds)
	for i := 0; i < ncreds; i++ {
		ctype := fields[7+i*2]
		cvalue, err := strconv.ParseInt(fields[8+i*2], 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("hashlist: bad cred value for %q: %w", ctype, err)
		}
		creds = append(creds, CredentialPair{Type: ctype, Value: cvalue})
	}

	_ = device // device is the volume key the caller already has; kept for record completeness
	return Entry{
		Ino:    ino,
		UID:    uint32(uid),
		GID:    uint32(gid),
		Mode:   uint32(mode),
		SrcID:  srcID,
		WCreds: dedupeCreds(creds),
	}, nil
}

// dedupeCreds drops duplicate (type, value) pairs from a write-credential
// list: a malformed or doubled-up load message shouldn't silently grant an
// entry more matching credentials than it was meant to have.
func dedupeCreds(creds []CredentialPair) []CredentialPair {
	if len(creds) < 2 {
		return creds
	}
	seen := mapset.NewThreadUnsafeSet()
	out := make([]CredentialPair, 0, len(creds))
	for _, c := range creds {
		k := c.Type + "\x00" + strconv.FormatInt(c.Value, 10)
		if seen.Contains(k) {
			continue
		}
		seen.Add(k)
		out = append(out, c)
	}
	return out
}

// ParseLegacyExecutableRecord parses the deprecated-but-supported 'a'-tag
// format, which carries a free-text source-id string instead of a numeric
// src_id and is translated through def, matching the original kernel
// module's parse_old_format_msg path.
func ParseLegacyExecutableRecord(msg string, def SourceDefiner) (Entry, error) {
	if len(msg) == 0 || msg[0] != 'a' {
		return Entry{}, fmt.Errorf("hashlist: not a legacy record")
	}
	if len(msg) < hashMessageMinLength {
		return Entry{}, fmt.Errorf("hashlist: legacy message too short")
	}

	rest := msg[1:]
	var hash [20]byte
	copy(hash[:], rest[:20])
	rest = rest[20:]

	fields := strings.Fields(rest)
	if len(fields) < 5 {
		return Entry{}, fmt.Errorf("hashlist: legacy message missing fields")
	}
	device, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad device: %w", err)
	}
	ino, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad ino: %w", err)
	}
	uid, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad uid: %w", err)
	}
	gid, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad gid: %w", err)
	}
	mode, err := strconv.ParseUint(fields[4], 8, 32)
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: bad mode: %w", err)
	}
	if len(fields) < 6 {
		return Entry{}, fmt.Errorf("hashlist: legacy message missing source-id string")
	}
	srcID, err := def.DefineSource(fields[5])
	if err != nil {
		return Entry{}, fmt.Errorf("hashlist: defining legacy source id: %w", err)
	}

	_ = device
	return Entry{
		Node:  NodeExecutable,
		Ino:   ino,
		UID:   uint32(uid),
		GID:   uint32(gid),
		Mode:  uint32(mode),
		SrcID: srcID,
		Hash:  hash,
	}, nil
}

// DumpLine renders one entry the way a debug seq_file would: source id and
// inode, (uid,gid,mode), a node-type character, a credential-presence
// flag, and the full 40-character hex digest.
func DumpLine(e Entry) string {
	nodeChar := map[NodeType]byte{
		NodeExecutable:   's',
		NodeStaticData:   't',
		NodeExempt:       'x',
		NodeImmutableDir: 'd',
		NodeProtectedDir: 'p',
	}[e.Node]

	credFlag := "-"
	if len(e.WCreds) > 0 {
		credFlag = "+"
	}

	return fmt.Sprintf("sid=%d ino=%d (%d,%d,%o) %c%s %s",
		e.SrcID, e.Ino, e.UID, e.GID, e.Mode, nodeChar, credFlag, formatter.DigestID(e.Hash).LongID())
}
