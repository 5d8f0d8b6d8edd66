package schemacodec

import (
	"encoding/base64"
	"encoding/hex"
)

// hexDecode mirrors Cursor.ReadHex's acceptance of upper- or lower-case
// digit strings, used when encoding a `hex` leaf from its textual form.
func hexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errStructural("", "invalid hex string: "+err.Error())
	}
	return b, nil
}

func base64Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errStructural("", "invalid base64 string: "+err.Error())
	}
	return b, nil
}
