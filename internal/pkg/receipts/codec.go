package receipts

import (
	"errors"
	"net/url"
	"strings"

	"github.com/ManuelReschke/ReceiptFox/internal/pkg/security"
	"github.com/google/uuid"
)

// PublicPathPrefix is the route under which public receipts are served.
const PublicPathPrefix = "/receipts/public/"

var ErrUndecodable = errors.New("payload is not a receipt code issued by this system")

// PublicURLBuilder derives the public view URL of a receipt from its id.
type PublicURLBuilder struct {
	base *url.URL
}

func NewPublicURLBuilder(baseURL string) (*PublicURLBuilder, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("public base url needs scheme and host")
	}
	return &PublicURLBuilder{base: u}, nil
}

// ReceiptURL returns {base}/receipts/public/{id}.
func (b *PublicURLBuilder) ReceiptURL(receiptID string) string {
	u := *b.base
	u.Path = strings.TrimRight(b.base.Path, "/") + PublicPathPrefix + receiptID
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// ParseReceiptURL extracts the receipt id from a public URL of this
// deployment. URLs of other hosts are not accepted.
func (b *PublicURLBuilder) ParseReceiptURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Host, b.base.Host) {
		return "", false
	}
	prefix := strings.TrimRight(b.base.Path, "/") + PublicPathPrefix
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	id, err := uuid.Parse(strings.Trim(strings.TrimPrefix(u.Path, prefix), "/"))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// ClaimCodec encodes receipt ids into scannable payloads and decodes them
// back. A payload is either a signed claim code or a public receipt URL.
type ClaimCodec struct {
	secret string
	urls   *PublicURLBuilder
}

func NewClaimCodec(secret string, urls *PublicURLBuilder) *ClaimCodec {
	return &ClaimCodec{secret: secret, urls: urls}
}

// Encode returns the signed claim code for a receipt id.
func (c *ClaimCodec) Encode(receiptID string) (string, error) {
	id, err := uuid.Parse(receiptID)
	if err != nil {
		return "", err
	}
	raw, err := id.MarshalBinary()
	if err != nil {
		return "", err
	}
	return security.GenerateClaimCode(raw, c.secret)
}

// Decode resolves a scanned payload to a receipt id. It never touches
// storage.
func (c *ClaimCodec) Decode(payload string) (string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", ErrUndecodable
	}

	if strings.HasPrefix(trimmed, security.ClaimCodeVersion+".") {
		if c.secret == "" {
			return "", ErrUndecodable
		}
		subject, err := security.VerifyClaimCode(trimmed, c.secret)
		if err != nil {
			return "", ErrUndecodable
		}
		id, err := uuid.FromBytes(subject)
		if err != nil {
			return "", ErrUndecodable
		}
		return id.String(), nil
	}

	if c.urls != nil {
		if id, ok := c.urls.ParseReceiptURL(trimmed); ok {
			return id, nil
		}
	}
	return "", ErrUndecodable
}
