package ntlm

import (
	"crypto/des"
	"crypto/hmac"
	"crypto/md5"
	"encoding/binary"
	"strings"
	"unicode/utf16"

	"golang.org/x/crypto/md4"
)

// lmMagic is the constant encrypted with the password halves to form the LM hash.
var lmMagic = []byte("KGS!@#$%")

// utf16le encodes s as UTF-16 little endian.
func utf16le(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[i*2:], u)
	}
	return b
}

// ntowfv1 computes MD4(UTF-16LE(password)).
func ntowfv1(password string) []byte {
	h := md4.New()
	h.Write(utf16le(password))
	return h.Sum(nil)
}

// lmowfv1 computes the LM hash. Passwords longer than 14 characters have no
// LM hash and yield nil.
func lmowfv1(password string) []byte {
	if len(password) > 14 {
		return nil
	}
	key := make([]byte, 14)
	copy(key, strings.ToUpper(password))
	out := make([]byte, 0, 16)
	out = append(out, desEncrypt(key[:7], lmMagic)...)
	return append(out, desEncrypt(key[7:], lmMagic)...)
}

// ntowfv2 computes the NTLMv2 response key.
func ntowfv2(ntHash []byte, user, domain string) []byte {
	return hmacMD5(ntHash, utf16le(strings.ToUpper(user)+domain))
}

func hmacMD5(key []byte, data ...[]byte) []byte {
	h := hmac.New(md5.New, key)
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// desl encrypts an 8-byte block with three DES keys cut from a 16-byte key
// padded to 21 bytes.
func desl(key, data []byte) []byte {
	k := make([]byte, 21)
	copy(k, key)
	out := make([]byte, 0, 24)
	for i := 0; i < 3; i++ {
		out = append(out, desEncrypt(k[i*7:i*7+7], data)...)
	}
	return out
}

// desEncrypt encrypts one block with a 56-bit key expanded to 8 bytes.
func desEncrypt(key7, block []byte) []byte {
	c, err := des.NewCipher(expandDESKey(key7))
	if err != nil {
		// expandDESKey always returns 8 bytes
		panic(err)
	}
	out := make([]byte, 8)
	c.Encrypt(out, block)
	return out
}

// expandDESKey spreads 7 key bytes over 8, leaving the parity bits clear.
func expandDESKey(k []byte) []byte {
	return []byte{
		k[0],
		k[0]<<7 | k[1]>>1,
		k[1]<<6 | k[2]>>2,
		k[2]<<5 | k[3]>>3,
		k[3]<<4 | k[4]>>4,
		k[4]<<3 | k[5]>>5,
		k[5]<<2 | k[6]>>6,
		k[6] << 1,
	}
}
