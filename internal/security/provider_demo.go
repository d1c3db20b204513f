package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// DemoProvider is the software MAC implementation: HMAC-SHA256 truncated to
// 8 bytes. Good enough for development and integration rigs; production
// deployments use the HSM provider.
type DemoProvider struct {
	key []byte
}

func NewDemoProvider(key []byte) *DemoProvider {
	return &DemoProvider{key: key}
}

func (p *DemoProvider) MAC(data []byte) ([]byte, error) {
	if len(p.key) == 0 {
		return nil, fmt.Errorf("mac key is required")
	}
	h := hmac.New(sha256.New, p.key)
	h.Write(data)
	return h.Sum(nil)[:8], nil
}
