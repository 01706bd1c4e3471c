package lnurlpay

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/lightningnetwork/lnd/lntypes"
)

// MaxSuccessActionText bounds the length, in characters, of any text a
// success action may ask the wallet to display.
const MaxSuccessActionText = 4096

const (
	TagMessage = "message"
	TagURL     = "url"
	TagAES     = "aes"
)

// SuccessAction is a post-payment instruction returned by the service. The
// set of implementations is closed: each one knows how to interpret itself.
type SuccessAction interface {
	// Tag is the wire tag of the action.
	Tag() string

	interpret(preimage lntypes.Preimage, callbackHost string) (
		*ActionResult, error)
}

// MessageAction asks the wallet to show a message.
type MessageAction struct {
	Message string
}

// URLAction suggests a URL for the user to open.
type URLAction struct {
	Description string
	URL         string
}

// AESAction carries a message encrypted with the payment preimage.
type AESAction struct {
	Description string

	// Ciphertext and IV are base64 encoded.
	Ciphertext string
	IV         string
}

// UnknownAction is any action whose tag isn't recognised.
type UnknownAction struct {
	TagName string
}

// Tag returns the wire tag.
func (a *MessageAction) Tag() string { return TagMessage }

// Tag returns the wire tag.
func (a *URLAction) Tag() string { return TagURL }

// Tag returns the wire tag.
func (a *AESAction) Tag() string { return TagAES }

// Tag returns the wire tag.
func (a *UnknownAction) Tag() string { return a.TagName }

// ActionKind identifies what the wallet has to do with an ActionResult.
type ActionKind uint8

const (
	// ActionMessage is a message to display.
	ActionMessage ActionKind = iota + 1

	// ActionURL is a URL the user may open after confirming.
	ActionURL

	// ActionDecrypted is a description plus a decrypted message.
	ActionDecrypted
)

// ActionResult is an interpreted success action.
type ActionResult struct {
	Kind ActionKind

	Description string

	// Message is the text to show. For ActionDecrypted it is the
	// plaintext.
	Message string

	URL string
}

// RequiresConfirmation is true when the user must explicitly agree before
// the wallet acts on the result. Services may suggest navigation but never
// force it.
func (r *ActionResult) RequiresConfirmation() bool {
	return r.Kind == ActionURL
}

type wireSuccessAction struct {
	Tag         string `json:"tag"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Ciphertext  string `json:"ciphertext,omitempty"`
	IV          string `json:"iv,omitempty"`
}

// ParseSuccessAction decodes the successAction field of an invoice response.
// A missing or null action yields a nil SuccessAction.
func ParseSuccessAction(raw json.RawMessage) (SuccessAction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var w wireSuccessAction
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, newError(MalformedSuccessAction, "", err)
	}

	switch w.Tag {
	case TagMessage:
		return &MessageAction{Message: w.Message}, nil

	case TagURL:
		return &URLAction{Description: w.Description, URL: w.URL}, nil

	case TagAES:
		return &AESAction{
			Description: w.Description,
			Ciphertext:  w.Ciphertext,
			IV:          w.IV,
		}, nil

	default:
		return &UnknownAction{TagName: w.Tag}, nil
	}
}

// InterpretSuccessAction performs action for a payment that settled with
// preimage. callback is the URL the invoice was requested from. A nil action
// yields a nil result.
func InterpretSuccessAction(action SuccessAction, preimage lntypes.Preimage,
	callback string) (*ActionResult, error) {

	if action == nil {
		return nil, nil
	}

	var host string
	if u, err := url.Parse(callback); err == nil {
		host = u.Hostname()
	}

	return action.interpret(preimage, host)
}

func checkTextLength(field, text string) error {
	if n := utf8.RuneCountInString(text); n > MaxSuccessActionText {
		return newError(MalformedSuccessAction, fmt.Sprintf(
			"%s is %d characters, max %d", field, n,
			MaxSuccessActionText,
		), nil)
	}

	return nil
}

func (a *MessageAction) interpret(_ lntypes.Preimage, _ string) (
	*ActionResult, error) {

	if err := checkTextLength("message", a.Message); err != nil {
		return nil, err
	}

	return &ActionResult{Kind: ActionMessage, Message: a.Message}, nil
}

func (a *URLAction) interpret(_ lntypes.Preimage, callbackHost string) (
	*ActionResult, error) {

	if err := checkTextLength("description", a.Description); err != nil {
		return nil, err
	}

	u, err := url.Parse(a.URL)
	if err != nil {
		return nil, newError(MalformedSuccessAction, "invalid url", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, newError(MalformedSuccessAction, fmt.Sprintf(
			"unsupported url scheme '%s'", u.Scheme,
		), nil)
	}

	// The url must point at the domain the invoice was requested from.
	if !strings.EqualFold(u.Hostname(), callbackHost) {
		return nil, newError(MalformedSuccessAction, fmt.Sprintf(
			"url host '%s' differs from callback host '%s'",
			u.Hostname(), callbackHost,
		), nil)
	}

	return &ActionResult{
		Kind:        ActionURL,
		Description: a.Description,
		URL:         a.URL,
	}, nil
}

func (a *AESAction) interpret(preimage lntypes.Preimage, _ string) (
	*ActionResult, error) {

	if err := checkTextLength("description", a.Description); err != nil {
		return nil, err
	}

	// Whatever happens below, only the description may be surfaced
	// unless decryption fully succeeds.
	res := &ActionResult{Kind: ActionDecrypted, Description: a.Description}

	iv, err := base64.StdEncoding.DecodeString(a.IV)
	if err != nil {
		return res, newError(MalformedSuccessAction, "invalid iv", err)
	}
	if len(iv) != aes.BlockSize {
		return res, newError(MalformedSuccessAction, fmt.Sprintf(
			"iv is %d bytes, expected %d", len(iv), aes.BlockSize,
		), nil)
	}

	key := preimage[:]
	if len(key) != aesKeySize {
		return res, newError(MalformedSuccessAction, fmt.Sprintf(
			"key is %d bytes, expected %d", len(key), aesKeySize,
		), nil)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(a.Ciphertext)
	if err != nil {
		return res, newError(
			MalformedSuccessAction, "invalid ciphertext", err,
		)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return res, newError(MalformedSuccessAction, fmt.Sprintf(
			"ciphertext length %d is not a multiple of the "+
				"block size", len(ciphertext),
		), nil)
	}

	plaintext, err := decryptCBC(key, iv, ciphertext)
	if err != nil {
		return res, newError(DecryptionFailed, a.Description, err)
	}
	if !utf8.Valid(plaintext) {
		return res, newError(
			DecryptionFailed, a.Description,
			errors.New("plaintext is not valid utf-8"),
		)
	}
	if err := checkTextLength("plaintext", string(plaintext)); err != nil {
		return res, err
	}

	res.Message = string(plaintext)

	return res, nil
}

func (a *UnknownAction) interpret(_ lntypes.Preimage, _ string) (
	*ActionResult, error) {

	return nil, newError(UnsupportedSuccessAction, a.TagName, nil)
}

// aesKeySize is the size of the preimage, used directly as an AES-256 key.
const aesKeySize = lntypes.PreimageSize

var errBadPadding = errors.New("invalid pkcs7 padding")

// decryptCBC decrypts ciphertext with AES-CBC and strips the PKCS7 padding.
func decryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// encryptCBC pads plaintext with PKCS7 and encrypts it with AES-CBC.
func encryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(
		append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...,
	)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errBadPadding
	}

	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}

	return data[:len(data)-n], nil
}

// EncryptSuccessAction builds an aes success action whose plaintext can be
// recovered with the preimage of the invoice it is attached to.
func EncryptSuccessAction(description, plaintext string,
	preimage lntypes.Preimage, iv []byte) (*AESAction, error) {

	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes", aes.BlockSize)
	}

	ciphertext, err := encryptCBC(preimage[:], iv, []byte(plaintext))
	if err != nil {
		return nil, err
	}

	return &AESAction{
		Description: description,
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
		IV:          base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// MarshalJSON encodes the action in its wire form.
func (a *MessageAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireSuccessAction{
		Tag: TagMessage, Message: a.Message,
	})
}

// MarshalJSON encodes the action in its wire form.
func (a *URLAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireSuccessAction{
		Tag: TagURL, Description: a.Description, URL: a.URL,
	})
}

// MarshalJSON encodes the action in its wire form.
func (a *AESAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireSuccessAction{
		Tag: TagAES, Description: a.Description,
		Ciphertext: a.Ciphertext, IV: a.IV,
	})
}
