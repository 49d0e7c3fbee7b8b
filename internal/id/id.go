package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// 同一毫秒内生成的 ID 仍保持字典序递增。
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New 返回带前缀的 ULID，可按生成时间排序。
func New(prefix string) string {
	mu.Lock()
	defer mu.Unlock()

	value, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// 仅在时钟回拨且熵耗尽时出现。
		panic(err)
	}
	return prefix + value.String()
}
