package kernel

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
)

// Delimiter separates routing identities from the signed message frames.
var Delimiter = []byte("<IDS|MSG>")

// ErrSignatureMismatch is returned when a message's HMAC does not verify.
var ErrSignatureMismatch = errors.New("message signature mismatch")

// Signer computes message signatures. A Signer with an empty key signs
// nothing and accepts any signature.
type Signer struct {
	key     []byte
	newHash func() hash.Hash
}

// NewSigner creates a Signer for the given scheme and key.
func NewSigner(scheme, key string) (*Signer, error) {
	s := &Signer{key: []byte(key)}
	switch scheme {
	case "", "hmac-sha256":
		s.newHash = sha256.New
	case "hmac-sha1":
		s.newHash = sha1.New
	case "hmac-md5":
		s.newHash = md5.New
	default:
		return nil, fmt.Errorf("unsupported signature scheme %q", scheme)
	}
	return s, nil
}

// Sign returns the hex signature of the given frames.
func (s *Signer) Sign(frames ...[]byte) []byte {
	if len(s.key) == 0 {
		return []byte{}
	}
	mac := hmac.New(s.newHash, s.key)
	for _, f := range frames {
		mac.Write(f)
	}
	sum := mac.Sum(nil)
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum)
	return out
}

// Verify checks signature against the frames in constant time.
func (s *Signer) Verify(signature []byte, frames ...[]byte) bool {
	if len(s.key) == 0 {
		return true
	}
	return hmac.Equal(signature, s.Sign(frames...))
}

// Encode serializes and signs a message into wire frames:
// identities..., delimiter, signature, header, parent header, metadata,
// content, buffers...
func Encode(msg *Message, signer *Signer) ([][]byte, error) {
	header, err := json.Marshal(msg.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	parent := []byte("{}")
	if msg.ParentHeader.MsgID != "" {
		parent, err = json.Marshal(msg.ParentHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal parent header: %w", err)
		}
	}

	metadata := []byte("{}")
	if len(msg.Metadata) > 0 {
		metadata, err = json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	content := []byte(msg.Content)
	if len(content) == 0 {
		content = []byte("{}")
	}

	frames := make([][]byte, 0, len(msg.Identities)+6+len(msg.Buffers))
	frames = append(frames, msg.Identities...)
	frames = append(frames, Delimiter, signer.Sign(header, parent, metadata, content))
	frames = append(frames, header, parent, metadata, content)
	frames = append(frames, msg.Buffers...)
	return frames, nil
}

// Decode parses and verifies wire frames into a message.
func Decode(frames [][]byte, signer *Signer) (*Message, error) {
	idx := -1
	for i, f := range frames {
		if bytes.Equal(f, Delimiter) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, errors.New("missing message delimiter")
	}

	rest := frames[idx+1:]
	if len(rest) < 5 {
		return nil, fmt.Errorf("message has %d frames after delimiter, want at least 5", len(rest))
	}

	signature, header, parent, metadata, content := rest[0], rest[1], rest[2], rest[3], rest[4]
	if !signer.Verify(signature, header, parent, metadata, content) {
		return nil, ErrSignatureMismatch
	}

	msg := &Message{
		Identities: frames[:idx],
		Content:    json.RawMessage(content),
		Buffers:    rest[5:],
	}
	if err := json.Unmarshal(header, &msg.Header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	if err := json.Unmarshal(parent, &msg.ParentHeader); err != nil {
		return nil, fmt.Errorf("failed to unmarshal parent header: %w", err)
	}
	if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return msg, nil
}
