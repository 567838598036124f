package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	signatureRule  = "=============================== SIGNATURE ==============================="
	signatureClose = "========================================================================="
)

// SignatureBlock is the text appended to a contract body when a party signs.
type SignatureBlock struct {
	Role     string
	Name     string
	SignedAt time.Time
	Token    string
}

// Text renders the block. Timestamps are always UTC.
func (s SignatureBlock) Text() string {
	var b strings.Builder
	b.WriteString(signatureRule)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Role: %s\n", strings.ToUpper(s.Role))
	fmt.Fprintf(&b, "Name: %s\n", s.Name)
	fmt.Fprintf(&b, "Signed At (UTC): %s\n", s.SignedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Signing Token: %s\n", s.Token)
	b.WriteString(signatureClose)
	b.WriteString("\n")
	return b.String()
}

// AppendSignatureBlock appends the block to body and regenerates the whole
// document from the combined text. It never patches an existing PDF.
func AppendSignatureBlock(body string, sig SignatureBlock) (string, []byte) {
	next := strings.TrimRight(body, "\n") + "\n\n" + sig.Text()
	return next, Render(next)
}

// Hash is the hex sha256 of the exact document bytes.
func Hash(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// SigningToken derives a per-signing token from the server secret and the
// signing facts. The same inputs always yield the same token, so a token in
// a document can be re-derived to check it was issued by this service.
func SigningToken(secret []byte, contractID int64, role, name string, signedAt time.Time) string {
	salt := []byte("contract:" + strconv.FormatInt(contractID, 10))
	info := []byte(role + "|" + name + "|" + signedAt.UTC().Format(time.RFC3339Nano))
	r := hkdf.New(sha256.New, secret, salt, info)
	out := make([]byte, 16)
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf only fails after 255*32 bytes of output
		panic(err)
	}
	return hex.EncodeToString(out)
}
