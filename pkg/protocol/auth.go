package protocol

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// AuthResponse computes the hash the client sends back for a server
// greeting. Servers advertising a realm ("realm:nonce") expect the digest
// scheme; older servers send a bare timestamp and expect the legacy scheme.
func AuthResponse(username, password, greeting string) string {
	if realm, nonce, ok := strings.Cut(greeting, ":"); ok {
		return md5Hex(md5Hex(username+":"+realm+":"+password) + nonce)
	}
	return md5Hex(md5Hex(password) + greeting)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
