package tor

import (
	"encoding/base32"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Onion address constants.
const (
	// OnionV3Length is the base32 length of a v3 address without ".onion".
	OnionV3Length = 56
	// OnionV3Version is the trailing version byte of v3 addresses.
	OnionV3Version = 0x03
	// OnionSuffix ends every onion host name.
	OnionSuffix = ".onion"
)

// Onion address errors.
var (
	ErrInvalidOnionAddress = errors.New("invalid onion address")
	ErrV2AddressDeprecated = errors.New("v2 onion addresses are deprecated and no longer functional")
)

var (
	onionV3Pattern        = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)
	onionV2Pattern        = regexp.MustCompile(`^[a-z2-7]{16}\.onion$`)
	onionV3ContentPattern = regexp.MustCompile(`[a-z2-7]{56}\.onion`)
)

// checksumPrefix is fixed by rend-spec-v3.
var checksumPrefix = []byte(".onion checksum")

// IsValidV3Address reports whether address is a v3 onion host with a
// correct checksum and version byte.
func IsValidV3Address(address string) bool {
	address = strings.ToLower(address)
	if !onionV3Pattern.MatchString(address) {
		return false
	}

	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(address, OnionSuffix)))
	if err != nil || len(decoded) != 35 {
		return false
	}

	// pubkey(32) | checksum(2) | version(1)
	pubkey, checksum, version := decoded[:32], decoded[32:34], decoded[34]
	if version != OnionV3Version {
		return false
	}
	want := v3Checksum(pubkey, version)
	return checksum[0] == want[0] && checksum[1] == want[1]
}

// v3Checksum returns the first two bytes of
// SHA3-256(".onion checksum" | pubkey | version).
func v3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)
	sum := sha3.Sum256(data)
	return sum[:2]
}

// V3AddressFromPublicKey derives the v3 onion host of an ed25519 public key.
func V3AddressFromPublicKey(pubkey []byte) (string, error) {
	if len(pubkey) != 32 {
		return "", ErrInvalidOnionAddress
	}
	data := make([]byte, 0, 35)
	data = append(data, pubkey...)
	data = append(data, v3Checksum(pubkey, OnionV3Version)...)
	data = append(data, OnionV3Version)
	return strings.ToLower(base32.StdEncoding.EncodeToString(data)) + OnionSuffix, nil
}

// ExtractV3Addresses returns the distinct, checksum-valid v3 hosts that
// appear anywhere in content, in order of first appearance.
func ExtractV3Addresses(content string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range onionV3ContentPattern.FindAllString(strings.ToLower(content), -1) {
		if seen[m] || !IsValidV3Address(m) {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// NormalizeAddress reduces user input such as "HTTP://ABC...XYZ/path" to the
// bare lowercase v3 host.
func NormalizeAddress(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	address = strings.TrimPrefix(address, "https://")
	address = strings.TrimPrefix(address, "http://")
	if i := strings.IndexAny(address, "/?#"); i != -1 {
		address = address[:i]
	}
	if h, _, err := net.SplitHostPort(address); err == nil {
		address = h
	}
	if !strings.HasSuffix(address, OnionSuffix) {
		address += OnionSuffix
	}

	if IsValidV3Address(address) {
		return address, nil
	}
	if onionV2Pattern.MatchString(address) {
		return "", ErrV2AddressDeprecated
	}
	return "", ErrInvalidOnionAddress
}

// IsOnionURL reports whether rawURL is an absolute http(s) URL whose host
// ends in ".onion".
func IsOnionURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), OnionSuffix)
}
