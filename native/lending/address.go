package lending

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a 0x-prefixed holder address and returns its
// checksummed form, so the same holder always maps to the same record.
func NormalizeAddress(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return "", ErrValidation
	}
	if !common.IsHexAddress(trimmed) {
		return "", ErrValidation
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return "", ErrValidation
	}
	return addr.Hex(), nil
}

func normalizeCaller(op, raw string) (string, error) {
	addr, err := NormalizeAddress(raw)
	if err != nil {
		return "", opError(op, strings.TrimSpace(raw), ErrValidation, "malformed address")
	}
	return addr, nil
}
