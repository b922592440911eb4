package ntlm

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/go-ntlmssp"
	ews "github.com/smnsjas/go-ews"
)

// Negotiate flags (MS-NLMP 2.2.2.5).
const (
	FlagUnicode                 uint32 = 0x00000001
	FlagOEM                     uint32 = 0x00000002
	FlagRequestTarget           uint32 = 0x00000004
	FlagNTLM                    uint32 = 0x00000200
	FlagDomainSupplied          uint32 = 0x00001000
	FlagWorkstationSupplied     uint32 = 0x00002000
	FlagAlwaysSign              uint32 = 0x00008000
	FlagExtendedSessionSecurity uint32 = 0x00080000
	FlagTargetInfo              uint32 = 0x00800000
	FlagVersion                 uint32 = 0x02000000
	Flag128                     uint32 = 0x20000000
	FlagKeyExchange             uint32 = 0x40000000
	Flag56                      uint32 = 0x80000000
)

// AV pair identifiers found in the challenge target info.
const (
	avEOL       uint16 = 0x0000
	avTimestamp uint16 = 0x0007
)

const (
	typeNegotiate    uint32 = 1
	typeChallenge    uint32 = 2
	typeAuthenticate uint32 = 3

	// challengeMinLen covers the fields up to and including Reserved.
	challengeMinLen = 32

	// authenticateHeaderLen is the fixed part of an AUTHENTICATE message
	// including the version block.
	authenticateHeaderLen = 72

	// filetimeEpochDelta is the number of 100ns intervals between 1601 and 1970.
	filetimeEpochDelta = 116444736000000000
)

// Scheme is the HTTP authentication scheme name.
const Scheme = "NTLM"

var signature = []byte("NTLMSSP\x00")

// clientVersion is announced in AUTHENTICATE messages (6.1 build 7601, NTLM revision 15).
var clientVersion = []byte{6, 1, 0xb1, 0x1d, 0, 0, 0, 15}

// Challenge is a parsed CHALLENGE (type 2) message.
type Challenge struct {
	// Raw is the decoded message.
	Raw []byte

	// Flags are the negotiate flags chosen by the server.
	Flags uint32

	// ServerChallenge is the server nonce.
	ServerChallenge [8]byte

	// TargetName is the raw target name field.
	TargetName []byte

	// TargetInfo is the raw AV pair list, empty for servers without NTLMv2.
	TargetInfo []byte

	// Timestamp is MsvAvTimestamp when the server sent one, otherwise the
	// zero time, which encodes as FILETIME 0.
	Timestamp time.Time

	// hasTimestamp records whether Timestamp came from the server.
	hasTimestamp bool
}

// NewNegotiateMessage builds the NEGOTIATE (type 1) message.
func NewNegotiateMessage(creds Credentials) ([]byte, error) {
	_, domain := creds.identity()
	msg, err := ntlmssp.NewNegotiateMessage(domain, creds.Workstation)
	if err != nil {
		return nil, ews.E(ews.KindProtocol, "ntlm: negotiate", err)
	}
	return msg, nil
}

// ChallengeFromHeader returns the first WWW-Authenticate value that carries an
// NTLM token, and whether one was found.
func ChallengeFromHeader(h http.Header) (string, bool) {
	for _, v := range h.Values("WWW-Authenticate") {
		scheme, token, ok := strings.Cut(strings.TrimSpace(v), " ")
		if !ok || strings.TrimSpace(token) == "" {
			continue
		}
		if strings.EqualFold(scheme, Scheme) || strings.EqualFold(scheme, "Negotiate") {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// ParseChallenge decodes a "NTLM <base64>" header value.
func ParseChallenge(headerValue string) (*Challenge, error) {
	headerValue = strings.TrimSpace(headerValue)
	if headerValue == "" {
		return nil, ews.Errorf(ews.KindProtocol, "ntlm: parse challenge", "missing challenge header")
	}
	scheme, token, _ := strings.Cut(headerValue, " ")
	if !strings.EqualFold(scheme, Scheme) && !strings.EqualFold(scheme, "Negotiate") {
		return nil, ews.Errorf(ews.KindProtocol, "ntlm: parse challenge",
			fmt.Sprintf("unexpected scheme %q", scheme))
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ews.Errorf(ews.KindProtocol, "ntlm: parse challenge", "challenge token is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ews.E(ews.KindProtocol, "ntlm: parse challenge", err)
	}
	return ParseChallengeMessage(raw)
}

// ParseChallengeMessage decodes a raw CHALLENGE message.
func ParseChallengeMessage(raw []byte) (*Challenge, error) {
	const op = "ntlm: parse challenge"
	if len(raw) < challengeMinLen {
		return nil, ews.Errorf(ews.KindProtocol, op, fmt.Sprintf("message too short (%d bytes)", len(raw)))
	}
	if !bytes.Equal(raw[:8], signature) {
		return nil, ews.Errorf(ews.KindProtocol, op, "invalid signature")
	}
	if t := binary.LittleEndian.Uint32(raw[8:12]); t != typeChallenge {
		return nil, ews.Errorf(ews.KindProtocol, op, fmt.Sprintf("unexpected message type %d", t))
	}

	ch := &Challenge{
		Raw:   raw,
		Flags: binary.LittleEndian.Uint32(raw[20:24]),
	}
	copy(ch.ServerChallenge[:], raw[24:32])

	var err error
	if ch.TargetName, err = readField(raw, 12); err != nil {
		return nil, ews.E(ews.KindProtocol, op, fmt.Errorf("target name: %w", err))
	}
	if len(raw) >= 48 {
		if ch.TargetInfo, err = readField(raw, 40); err != nil {
			return nil, ews.E(ews.KindProtocol, op, fmt.Errorf("target info: %w", err))
		}
	}

	if ts, ok := findAV(ch.TargetInfo, avTimestamp); ok && len(ts) == 8 {
		ch.Timestamp = fromFiletime(binary.LittleEndian.Uint64(ts))
		ch.hasTimestamp = true
	}
	return ch, nil
}

// readField reads a (len, maxlen, offset) security buffer at pos.
func readField(raw []byte, pos int) ([]byte, error) {
	if len(raw) < pos+8 {
		return nil, fmt.Errorf("field header out of range")
	}
	n := int(binary.LittleEndian.Uint16(raw[pos:]))
	off := int(binary.LittleEndian.Uint32(raw[pos+4:]))
	if n == 0 {
		return nil, nil
	}
	if off < 0 || off+n > len(raw) {
		return nil, fmt.Errorf("payload out of range (offset %d, length %d)", off, n)
	}
	return raw[off : off+n], nil
}

// findAV returns the value of the first AV pair with the given id.
func findAV(info []byte, id uint16) ([]byte, bool) {
	for len(info) >= 4 {
		avID := binary.LittleEndian.Uint16(info)
		n := int(binary.LittleEndian.Uint16(info[2:]))
		if avID == avEOL || len(info) < 4+n {
			return nil, false
		}
		if avID == id {
			return info[4 : 4+n], true
		}
		info = info[4+n:]
	}
	return nil, false
}

// NewAuthenticateMessage builds the AUTHENTICATE (type 3) message answering ch.
// The result depends only on ch and creds.
func NewAuthenticateMessage(ch *Challenge, creds Credentials) ([]byte, error) {
	const op = "ntlm: authenticate"
	if ch == nil {
		return nil, ews.Errorf(ews.KindProtocol, op, "no challenge")
	}
	ntHash, err := creds.ntHash()
	if err != nil {
		return nil, ews.E(ews.KindConfig, op, err)
	}

	user, domain := creds.identity()
	clientChallenge := deriveClientChallenge(ntHash, ch)

	var lm, nt []byte
	switch {
	case len(ch.TargetInfo) > 0:
		ts := make([]byte, 8)
		binary.LittleEndian.PutUint64(ts, toFiletime(ch.Timestamp))
		nt, lm = ntlmV2Response(ntHash, user, domain, ch.ServerChallenge[:], clientChallenge, ts, ch.TargetInfo)
		if ch.hasTimestamp {
			lm = make([]byte, 24)
		}
	case ch.Flags&FlagExtendedSessionSecurity != 0:
		nt, lm = ntlmV1SessionResponse(ntHash, ch.ServerChallenge[:], clientChallenge)
	default:
		nt, lm = ntlmV1Response(ntHash, creds.lmHash(), ch.ServerChallenge[:])
	}

	flags := (ch.Flags | FlagVersion) &^ FlagKeyExchange
	encode := oemBytes
	if ch.Flags&FlagUnicode != 0 {
		encode = utf16le
		flags &^= FlagOEM
	}

	payload := [][]byte{
		lm,
		nt,
		encode(domain),
		encode(user),
		encode(creds.Workstation),
		nil, // EncryptedRandomSessionKey
	}

	var buf bytes.Buffer
	buf.Grow(authenticateHeaderLen + 256)
	buf.Write(signature)
	_ = binary.Write(&buf, binary.LittleEndian, typeAuthenticate)

	offset := uint32(authenticateHeaderLen)
	for _, p := range payload {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(p)))
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(p)))
		_ = binary.Write(&buf, binary.LittleEndian, offset)
		offset += uint32(len(p))
	}
	_ = binary.Write(&buf, binary.LittleEndian, flags)
	buf.Write(clientVersion)
	for _, p := range payload {
		buf.Write(p)
	}
	return buf.Bytes(), nil
}

// ntlmV2Response returns the NTLMv2 NT response (NTProofStr || blob) and the LMv2 response.
func ntlmV2Response(ntHash []byte, user, domain string, serverChallenge, clientChallenge, timestamp, targetInfo []byte) (nt, lm []byte) {
	key := ntowfv2(ntHash, user, domain)

	blob := make([]byte, 0, 28+len(targetInfo)+4)
	blob = append(blob, 1, 1, 0, 0, 0, 0, 0, 0)
	blob = append(blob, timestamp...)
	blob = append(blob, clientChallenge...)
	blob = append(blob, 0, 0, 0, 0)
	blob = append(blob, targetInfo...)
	blob = append(blob, 0, 0, 0, 0)

	proof := hmacMD5(key, serverChallenge, blob)
	nt = append(proof, blob...)
	lm = append(hmacMD5(key, serverChallenge, clientChallenge), clientChallenge...)
	return nt, lm
}

// ntlmV1Response returns the NTLMv1 NT and LM responses.
func ntlmV1Response(ntHash, lmHash, serverChallenge []byte) (nt, lm []byte) {
	nt = desl(ntHash, serverChallenge)
	if lmHash == nil {
		return nt, nt
	}
	return nt, desl(lmHash, serverChallenge)
}

// ntlmV1SessionResponse returns the NTLMv1 responses with extended session security.
func ntlmV1SessionResponse(ntHash, serverChallenge, clientChallenge []byte) (nt, lm []byte) {
	h := md5.Sum(append(append([]byte{}, serverChallenge...), clientChallenge...))
	nt = desl(ntHash, h[:8])
	lm = make([]byte, 24)
	copy(lm, clientChallenge)
	return nt, lm
}

// deriveClientChallenge derives the 8-byte client nonce from the NT hash and
// the server challenge so that a captured challenge replays identically.
func deriveClientChallenge(ntHash []byte, ch *Challenge) []byte {
	return hmacMD5(ntHash, ch.ServerChallenge[:], ch.TargetInfo)[:8]
}

func oemBytes(s string) []byte {
	return []byte(s)
}

func toFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + filetimeEpochDelta)
}

func fromFiletime(ft uint64) time.Time {
	return time.Unix(0, (int64(ft)-filetimeEpochDelta)*100).UTC()
}

// encodeHeader formats a message as an Authorization header value.
func encodeHeader(msg []byte) string {
	return Scheme + " " + base64.StdEncoding.EncodeToString(msg)
}
