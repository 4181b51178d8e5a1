package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"
)

// Запасной счетчик на случай недоступного источника энтропии.
var fallbackSeq atomic.Uint64

// ConnID выдает идентификатор соединения вида "<prefix>-<12 hex>".
// Уникальность нужна в пределах процесса: ID живут, пока открыт сокет.
func ConnID(prefix string) string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		n := fallbackSeq.Add(1)
		return prefix + "-t" + strconv.FormatInt(time.Now().UnixNano(), 36) + "." + strconv.FormatUint(n, 36)
	}
	return prefix + "-" + hex.EncodeToString(b[:])
}
