package lnurlpay

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

const humanReadablePart = "lnurl"

// DecodeURL decodes a bech32 LNURL into the URL it wraps.
func DecodeURL(lnurl string) (string, error) {
	// LNURLs are usually longer than the 90 characters bech32 allows.
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(lnurl))
	if err != nil {
		return "", err
	}

	if hrp != humanReadablePart {
		return "", fmt.Errorf("incorrect hrp for LNURL. Expected "+
			"'%s', got '%s'", humanReadablePart, hrp)
	}

	data, err = bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// EncodeURL encodes url as an upper case bech32 LNURL.
func EncodeURL(url string) (string, error) {
	converted, err := bech32.ConvertBits([]byte(url), 8, 5, true)
	if err != nil {
		return "", err
	}

	str, err := bech32.Encode(humanReadablePart, converted)
	if err != nil {
		return "", err
	}

	return strings.ToUpper(str), nil
}

// ResolveURL turns the forms a pay code can take (bech32 LNURL, lightning:
// URI, lnurlp:// URL or lightning address) into the https URL of its
// descriptor. scheme replaces lnurlp for LUD-17 URLs.
func ResolveURL(code, scheme string) (string, error) {
	switch {
	case strings.HasPrefix(strings.ToLower(code), "lightning:"):
		return ResolveURL(code[len("lightning:"):], scheme)

	case strings.HasPrefix(code, "lnurlp://"):
		return strings.Replace(code, "lnurlp", scheme, 1), nil

	case strings.HasPrefix(strings.ToUpper(code), "LNURL"):
		url, err := DecodeURL(code)
		if err != nil {
			return "", fmt.Errorf("error decoding LNURL: %w", err)
		}

		return url, nil

	case strings.Contains(code, "@"):
		// This is an LN Address:
		parts := strings.Split(code, "@")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", fmt.Errorf("invalid LN address. Expected " +
				"the form <username>@<domain>")
		}

		username, domain := parts[0], parts[1]

		return fmt.Sprintf("%s://%s/.well-known/lnurlp/%s", scheme,
			domain, username), nil

	default:
		return "", fmt.Errorf("unsupported scheme")
	}
}
