// Package ntlmtest provides an HTTP handler that enforces NTLM authentication
// for tests.
package ntlmtest

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/smnsjas/go-ews/ntlm"
)

// Timestamp is the MsvAvTimestamp announced in every challenge.
var Timestamp = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Handler requires an NTLM handshake on each connection before passing
// requests to Next. The AUTHENTICATE message must arrive on the connection
// that received the challenge and must match the one Creds would produce.
type Handler struct {
	Creds ntlm.Credentials
	Next  http.Handler

	mu       sync.Mutex
	pending  map[string]*ntlm.Challenge
	requests int
	accepted int
}

// NewHandler returns a Handler guarding next.
func NewHandler(creds ntlm.Credentials, next http.Handler) *Handler {
	return &Handler{Creds: creds, Next: next, pending: make(map[string]*ntlm.Challenge)}
}

// Requests returns the number of requests served, including handshake legs.
func (h *Handler) Requests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests
}

// Accepted returns the number of completed handshakes.
func (h *Handler) Accepted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.requests++
	h.mu.Unlock()

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), ntlm.Scheme+" ")
	if !ok {
		deny(w, "")
		return
	}
	msg, err := base64.StdEncoding.DecodeString(token)
	if err != nil || len(msg) < 12 {
		deny(w, "")
		return
	}

	switch binary.LittleEndian.Uint32(msg[8:12]) {
	case 1:
		raw := ChallengeMessage([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
		ch, err := ntlm.ParseChallengeMessage(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		h.mu.Lock()
		h.pending[r.RemoteAddr] = ch
		h.mu.Unlock()
		deny(w, ntlm.Scheme+" "+base64.StdEncoding.EncodeToString(raw))
	case 3:
		h.mu.Lock()
		ch := h.pending[r.RemoteAddr]
		delete(h.pending, r.RemoteAddr)
		h.mu.Unlock()
		if ch == nil {
			deny(w, "")
			return
		}
		want, err := ntlm.NewAuthenticateMessage(ch, h.Creds)
		if err != nil || !bytes.Equal(want, msg) {
			deny(w, "")
			return
		}
		h.mu.Lock()
		h.accepted++
		h.mu.Unlock()
		h.Next.ServeHTTP(w, r)
	default:
		deny(w, "")
	}
}

func deny(w http.ResponseWriter, challenge string) {
	if challenge == "" {
		challenge = ntlm.Scheme
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.WriteHeader(http.StatusUnauthorized)
}

// ChallengeMessage builds a CHALLENGE message offering NTLMv2 with target
// information for domain "TEST" and server "EXCH01".
func ChallengeMessage(serverChallenge [8]byte) []byte {
	var info []byte
	info = appendAV(info, 2, utf16le("TEST"))
	info = appendAV(info, 1, utf16le("EXCH01"))
	ts := binary.LittleEndian.AppendUint64(nil, uint64(Timestamp.UnixNano()/100+116444736000000000))
	info = appendAV(info, 7, ts)
	info = appendAV(info, 0, nil)

	name := utf16le("TEST")
	const headerLen = 56
	flags := ntlm.FlagUnicode | ntlm.FlagRequestTarget | ntlm.FlagNTLM |
		ntlm.FlagExtendedSessionSecurity | ntlm.FlagTargetInfo | ntlm.Flag128

	msg := make([]byte, headerLen)
	copy(msg, "NTLMSSP\x00")
	binary.LittleEndian.PutUint32(msg[8:], 2)
	putField(msg[12:], len(name), headerLen)
	binary.LittleEndian.PutUint32(msg[20:], flags)
	copy(msg[24:32], serverChallenge[:])
	putField(msg[40:], len(info), headerLen+len(name))
	copy(msg[48:], []byte{10, 0, 0x63, 0x45, 0, 0, 0, 15})
	msg = append(msg, name...)
	return append(msg, info...)
}

func putField(b []byte, n, offset int) {
	binary.LittleEndian.PutUint16(b, uint16(n))
	binary.LittleEndian.PutUint16(b[2:], uint16(n))
	binary.LittleEndian.PutUint32(b[4:], uint32(offset))
}

func appendAV(b []byte, id uint16, value []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, id)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(value)))
	return append(b, value...)
}

func utf16le(s string) []byte {
	var b []byte
	for _, u := range utf16.Encode([]rune(s)) {
		b = binary.LittleEndian.AppendUint16(b, u)
	}
	return b
}
