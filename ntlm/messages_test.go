package ntlm

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ews "github.com/smnsjas/go-ews"
)

// buildChallenge assembles a CHALLENGE message with an empty target name.
func buildChallenge(flags uint32, serverChallenge, targetInfo []byte) []byte {
	const headerLen = 56
	msg := make([]byte, headerLen, headerLen+len(targetInfo))
	copy(msg, signature)
	binary.LittleEndian.PutUint32(msg[8:], typeChallenge)
	binary.LittleEndian.PutUint32(msg[16:], headerLen) // target name offset
	binary.LittleEndian.PutUint32(msg[20:], flags)
	copy(msg[24:32], serverChallenge)
	binary.LittleEndian.PutUint16(msg[40:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint16(msg[42:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint32(msg[44:], headerLen)
	copy(msg[48:], clientVersion)
	return append(msg, targetInfo...)
}

func challengeHeader(msg []byte) http.Header {
	h := http.Header{}
	h.Add("WWW-Authenticate", "Negotiate")
	h.Add("WWW-Authenticate", "NTLM "+base64.StdEncoding.EncodeToString(msg))
	return h
}

// withTimestamp appends an MsvAvTimestamp pair ahead of the EOL terminator.
func withTimestamp(info []byte, ft uint64) []byte {
	out := append([]byte{}, info[:len(info)-4]...)
	out = binary.LittleEndian.AppendUint16(out, avTimestamp)
	out = binary.LittleEndian.AppendUint16(out, 8)
	out = binary.LittleEndian.AppendUint64(out, ft)
	return append(out, 0, 0, 0, 0)
}

var testCreds = Credentials{Username: testUser, Domain: testDomain, Password: testPassword, Workstation: "WS01"}

func TestNewNegotiateMessage(t *testing.T) {
	msg, err := NewNegotiateMessage(testCreds)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(msg), 16)
	assert.Equal(t, signature, msg[:8])
	assert.Equal(t, typeNegotiate, binary.LittleEndian.Uint32(msg[8:12]))
}

func TestParseChallenge(t *testing.T) {
	flags := FlagUnicode | FlagNTLM | FlagTargetInfo | FlagExtendedSessionSecurity
	msg := buildChallenge(flags, testServerChallenge, testServerName)
	value, ok := ChallengeFromHeader(challengeHeader(msg))
	require.True(t, ok)

	ch, err := ParseChallenge(value)
	require.NoError(t, err)

	assert.Equal(t, flags, ch.Flags)
	assert.Equal(t, testServerChallenge, ch.ServerChallenge[:])
	assert.Equal(t, testServerName, ch.TargetInfo)
	assert.Empty(t, ch.TargetName)
	assert.False(t, ch.hasTimestamp)
	assert.True(t, ch.Timestamp.IsZero())
}

func TestParseChallenge_Timestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	info := withTimestamp(testServerName, toFiletime(want))

	ch, err := ParseChallengeMessage(buildChallenge(FlagUnicode|FlagTargetInfo, testServerChallenge, info))
	require.NoError(t, err)

	assert.True(t, ch.hasTimestamp)
	assert.True(t, ch.Timestamp.Equal(want), "Timestamp = %v, want %v", ch.Timestamp, want)
}

func TestParseChallenge_Malformed(t *testing.T) {
	valid := buildChallenge(FlagUnicode, testServerChallenge, nil)

	badSig := append([]byte{}, valid...)
	copy(badSig, "NTLMSSX\x00")

	badType := append([]byte{}, valid...)
	binary.LittleEndian.PutUint32(badType[8:], typeNegotiate)

	badInfo := buildChallenge(FlagUnicode|FlagTargetInfo, testServerChallenge, testServerName)
	binary.LittleEndian.PutUint32(badInfo[44:], 4096)

	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"wrong scheme", "Basic " + base64.StdEncoding.EncodeToString(valid)},
		{"no token", "NTLM "},
		{"bad base64", "NTLM !!!not-base64!!!"},
		{"too short", "NTLM " + base64.StdEncoding.EncodeToString(valid[:20])},
		{"bad signature", "NTLM " + base64.StdEncoding.EncodeToString(badSig)},
		{"wrong type", "NTLM " + base64.StdEncoding.EncodeToString(badType)},
		{"target info out of range", "NTLM " + base64.StdEncoding.EncodeToString(badInfo)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChallenge(tt.value)
			if !errors.Is(err, ews.ErrProtocol) {
				t.Errorf("ParseChallenge() error = %v, want protocol error", err)
			}
		})
	}
}

func TestChallengeFromHeader(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
		wantOK bool
	}{
		{"none", nil, "", false},
		{"bare schemes", []string{"Negotiate", "NTLM"}, "", false},
		{"ntlm token", []string{"Negotiate", "NTLM abc="}, "NTLM abc=", true},
		{"negotiate token", []string{"Negotiate abc="}, "Negotiate abc=", true},
		{"basic ignored", []string{`Basic realm="x"`}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for _, v := range tt.values {
				h.Add("WWW-Authenticate", v)
			}
			got, ok := ChallengeFromHeader(h)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ChallengeFromHeader() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNewAuthenticateMessage_Layout(t *testing.T) {
	flags := FlagUnicode | FlagNTLM | FlagTargetInfo | FlagKeyExchange
	ch, err := ParseChallengeMessage(buildChallenge(flags, testServerChallenge, testServerName))
	require.NoError(t, err)

	msg, err := NewAuthenticateMessage(ch, testCreds)
	require.NoError(t, err)

	assert.Equal(t, signature, msg[:8])
	assert.Equal(t, typeAuthenticate, binary.LittleEndian.Uint32(msg[8:12]))

	gotFlags := binary.LittleEndian.Uint32(msg[60:64])
	assert.Zero(t, gotFlags&FlagKeyExchange, "key exchange must not be negotiated")
	assert.NotZero(t, gotFlags&FlagVersion)

	field := func(pos int) []byte {
		b, err := readField(msg, pos)
		require.NoError(t, err)
		return b
	}
	assert.Len(t, field(12), 24, "LMv2 response")
	assert.Len(t, field(20), 16+28+len(testServerName)+4, "NTLMv2 response")
	assert.Equal(t, utf16le(testDomain), field(28))
	assert.Equal(t, utf16le(testUser), field(36))
	assert.Equal(t, utf16le("WS01"), field(44))
	assert.Empty(t, field(52))
	assert.Equal(t, authenticateHeaderLen, int(binary.LittleEndian.Uint32(msg[16:20])))
}

func TestNewAuthenticateMessage_DeterministicWithoutTimestamp(t *testing.T) {
	msg := buildChallenge(FlagUnicode|FlagTargetInfo, testServerChallenge, testServerName)
	value, ok := ChallengeFromHeader(challengeHeader(msg))
	require.True(t, ok)

	first, err := ParseChallenge(value)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := ParseChallenge(value)
	require.NoError(t, err)

	a, err := NewAuthenticateMessage(first, testCreds)
	require.NoError(t, err)
	b, err := NewAuthenticateMessage(second, testCreds)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "authenticate messages differ for the same header")

	// The NTLMv2 blob carries FILETIME 0 at offset 8 of the client blob.
	nt, err := readField(a, 20)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), nt[16+8:16+16])
}

func TestNewAuthenticateMessage_Deterministic(t *testing.T) {
	info := withTimestamp(testServerName, 133000000000000000)
	raw := buildChallenge(FlagUnicode|FlagTargetInfo, testServerChallenge, info)

	first, err := ParseChallengeMessage(raw)
	require.NoError(t, err)
	second, err := ParseChallengeMessage(append([]byte{}, raw...))
	require.NoError(t, err)

	a, err := NewAuthenticateMessage(first, testCreds)
	require.NoError(t, err)
	b, err := NewAuthenticateMessage(second, testCreds)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b), "authenticate messages differ for identical challenges")

	// MsvAvTimestamp present: LMv2 is zeroed.
	lm, err := readField(a, 12)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 24), lm)
}

func TestNewAuthenticateMessage_NTHashMatchesPassword(t *testing.T) {
	ch, err := ParseChallengeMessage(buildChallenge(FlagUnicode|FlagTargetInfo, testServerChallenge, testServerName))
	require.NoError(t, err)

	byPassword, err := NewAuthenticateMessage(ch, testCreds)
	require.NoError(t, err)

	hashed := testCreds
	hashed.Password = ""
	hashed.NTHash = ntowfv1(testPassword)
	byHash, err := NewAuthenticateMessage(ch, hashed)
	require.NoError(t, err)

	assert.Equal(t, byPassword, byHash)
}

func TestNewAuthenticateMessage_NTLMv1(t *testing.T) {
	tests := []struct {
		name   string
		flags  uint32
		wantNT []byte
	}{
		{
			name:   "plain",
			flags:  FlagUnicode | FlagNTLM,
			wantNT: mustHex("67c43011f30298a2ad35ece64f16331c44bdbed927841f94"),
		},
		{
			name:   "oem strings",
			flags:  FlagOEM | FlagNTLM,
			wantNT: mustHex("67c43011f30298a2ad35ece64f16331c44bdbed927841f94"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := ParseChallengeMessage(buildChallenge(tt.flags, testServerChallenge, nil))
			require.NoError(t, err)

			msg, err := NewAuthenticateMessage(ch, testCreds)
			require.NoError(t, err)

			nt, err := readField(msg, 20)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNT, nt)

			user, err := readField(msg, 36)
			require.NoError(t, err)
			if tt.flags&FlagUnicode != 0 {
				assert.Equal(t, utf16le(testUser), user)
			} else {
				assert.Equal(t, []byte(testUser), user)
			}
		})
	}
}

func TestNewAuthenticateMessage_ExtendedSessionSecurity(t *testing.T) {
	ch, err := ParseChallengeMessage(buildChallenge(FlagUnicode|FlagNTLM|FlagExtendedSessionSecurity, testServerChallenge, nil))
	require.NoError(t, err)

	msg, err := NewAuthenticateMessage(ch, testCreds)
	require.NoError(t, err)

	lm, err := readField(msg, 12)
	require.NoError(t, err)
	nt, err := readField(msg, 20)
	require.NoError(t, err)

	cc := deriveClientChallenge(ntowfv1(testPassword), ch)
	wantNT, wantLM := ntlmV1SessionResponse(ntowfv1(testPassword), testServerChallenge, cc)
	assert.Equal(t, wantNT, nt)
	assert.Equal(t, wantLM, lm)
}

func TestNewAuthenticateMessage_NoSecret(t *testing.T) {
	ch, err := ParseChallengeMessage(buildChallenge(FlagUnicode, testServerChallenge, nil))
	require.NoError(t, err)

	_, err = NewAuthenticateMessage(ch, Credentials{Username: "u"})
	assert.ErrorIs(t, err, ews.ErrConfig)
}
