package tools

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"

	"github.com/google/uuid"

	"github.com/weft-run/weft/pkg/schema"
)

const cryptoHashInputSchema = `{
  "type": "object",
  "properties": {
    "data": {"type": "string"},
    "algorithm": {"type": "string", "default": "sha256"}
  },
  "required": ["data"]
}`

const cryptoHMACInputSchema = `{
  "type": "object",
  "properties": {
    "data": {"type": "string"},
    "key": {"type": "string", "minLength": 1},
    "algorithm": {"type": "string", "default": "sha256"}
  },
  "required": ["data", "key"]
}`

// hashFunc returns a hash constructor for the given algorithm name.
func hashFunc(toolName, algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	case "sha1":
		return sha1.New, nil
	case "md5":
		return md5.New, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: unsupported hash algorithm %q", toolName, algorithm)
	}
}

// HashTool implements the "crypto.hash" builtin.
type HashTool struct{}

// NewHashTool creates the crypto.hash tool.
func NewHashTool() *HashTool { return &HashTool{} }

func (t *HashTool) Name() string { return "crypto.hash" }

func (t *HashTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Compute a hex-encoded hash of the data. Algorithms: sha256 (default), sha384, sha512, sha1, md5.",
		Input:       json.RawMessage(cryptoHashInputSchema),
	}
}

func (t *HashTool) Execute(_ context.Context, input any) (any, error) {
	params, err := objectInput("crypto.hash", input)
	if err != nil {
		return nil, err
	}
	data := stringParam(params, "data", "")
	algorithm := stringParam(params, "algorithm", "sha256")

	newHash, err := hashFunc("crypto.hash", algorithm)
	if err != nil {
		return nil, err
	}

	h := newHash()
	h.Write([]byte(data))
	return map[string]any{
		"hash":      hex.EncodeToString(h.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}

// HMACTool implements the "crypto.hmac" builtin.
type HMACTool struct{}

// NewHMACTool creates the crypto.hmac tool.
func NewHMACTool() *HMACTool { return &HMACTool{} }

func (t *HMACTool) Name() string { return "crypto.hmac" }

func (t *HMACTool) Schema() ToolSchema {
	return ToolSchema{
		Description: "Compute a hex-encoded HMAC of the data with the given key. Algorithms: sha256 (default), sha384, sha512, sha1, md5.",
		Input:       json.RawMessage(cryptoHMACInputSchema),
	}
}

func (t *HMACTool) Execute(_ context.Context, input any) (any, error) {
	params, err := objectInput("crypto.hmac", input)
	if err != nil {
		return nil, err
	}
	data := stringParam(params, "data", "")
	key := stringParam(params, "key", "")
	if key == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "crypto.hmac: missing required param 'key'")
	}
	algorithm := stringParam(params, "algorithm", "sha256")

	newHash, err := hashFunc("crypto.hmac", algorithm)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(newHash, []byte(key))
	mac.Write([]byte(data))
	return map[string]any{
		"hmac":      hex.EncodeToString(mac.Sum(nil)),
		"algorithm": algorithm,
	}, nil
}

// UUIDTool implements the "crypto.uuid" builtin.
type UUIDTool struct{}

// NewUUIDTool creates the crypto.uuid tool.
func NewUUIDTool() *UUIDTool { return &UUIDTool{} }

func (t *UUIDTool) Name() string { return "crypto.uuid" }

func (t *UUIDTool) Schema() ToolSchema {
	return ToolSchema{Description: "Generate a v4 UUID."}
}

func (t *UUIDTool) Execute(_ context.Context, _ any) (any, error) {
	return map[string]any{"uuid": uuid.NewString()}, nil
}

var (
	_ Tool = (*HashTool)(nil)
	_ Tool = (*HMACTool)(nil)
	_ Tool = (*UUIDTool)(nil)
)
