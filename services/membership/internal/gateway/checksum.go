package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// checksumSeparator отделяет хеш от индекса ключа в заголовке X-VERIFY.
const checksumSeparator = "###"

// Checksum вычисляет значение X-VERIFY: hex(SHA256(data + path + saltKey)) + "###" + saltIndex.
// Для инициации data — base64 payload, для запроса статуса data пустая, а path
// содержит merchantId и transactionId.
//
// Подпись не содержит ни nonce, ни времени: формат задан провайдером.
func Checksum(data, path, saltKey string, saltIndex int) string {
	sum := sha256.Sum256([]byte(data + path + saltKey))
	return hex.EncodeToString(sum[:]) + checksumSeparator + strconv.Itoa(saltIndex)
}
