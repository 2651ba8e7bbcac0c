// Package ids generates the gateway's external identifiers: a short
// capability prefix joined to a Crockford-base32 ULID, e.g. "acc_01J...".
package ids

import (
	"crypto/rand"
	"sync"
	"time"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Prefixes used across the data model (§6 ID format).
const (
	PrefixAccount  = "acc"
	PrefixAgent    = "agt"
	PrefixWallet   = "wal"
	PrefixPolicy   = "pol"
	PrefixService  = "svc"
	PrefixPricing  = "spr"
	PrefixInvoice  = "inv"
	PrefixTxn      = "txn"
	PrefixAudit    = "aud"
	PrefixRate     = "rts"
	PrefixSubmit   = "sub"
	PrefixCheckout = "cks"
)

// mu guards against two ULIDs generated within the same millisecond
// on the same process from sorting out of order.
var mu struct {
	sync.Mutex
	lastMs  int64
	lastRnd [10]byte
}

// New returns a new id of the form "<prefix>_<ULID>".
func New(prefix string) string {
	return prefix + "_" + newULID()
}

func newULID() string {
	ms := time.Now().UnixMilli()

	mu.Lock()
	defer mu.Unlock()

	var rnd [10]byte
	if ms == mu.lastMs {
		rnd = mu.lastRnd
		incrementRandom(&rnd)
	} else {
		if _, err := rand.Read(rnd[:]); err != nil {
			panic("ids: reading random bytes: " + err.Error())
		}
		mu.lastMs = ms
	}
	mu.lastRnd = rnd

	var ts [6]byte
	ts[0] = byte(ms >> 40)
	ts[1] = byte(ms >> 32)
	ts[2] = byte(ms >> 24)
	ts[3] = byte(ms >> 16)
	ts[4] = byte(ms >> 8)
	ts[5] = byte(ms)

	var buf [16]byte
	copy(buf[:6], ts[:])
	copy(buf[6:], rnd[:])

	return encode(buf)
}

// incrementRandom treats rnd as a big-endian counter and adds one, so that
// ULIDs minted in the same millisecond still sort monotonically.
func incrementRandom(rnd *[10]byte) {
	for i := len(rnd) - 1; i >= 0; i-- {
		rnd[i]++
		if rnd[i] != 0 {
			return
		}
	}
}

// encode renders the 6-byte timestamp + 10-byte randomness as the canonical
// 26-character Crockford base32 ULID string.
func encode(buf [16]byte) string {
	ts := buf[:6]
	rnd := buf[6:]

	var out [26]byte
	out[0] = crockford[(ts[0]&224)>>5]
	out[1] = crockford[ts[0]&31]
	out[2] = crockford[(ts[1]&248)>>3]
	out[3] = crockford[((ts[1]&7)<<2)|((ts[2]&192)>>6)]
	out[4] = crockford[(ts[2]&62)>>1]
	out[5] = crockford[((ts[2]&1)<<4)|((ts[3]&240)>>4)]
	out[6] = crockford[((ts[3]&15)<<1)|((ts[4]&128)>>7)]
	out[7] = crockford[(ts[4]&124)>>2]
	out[8] = crockford[((ts[4]&3)<<3)|((ts[5]&224)>>5)]
	out[9] = crockford[ts[5]&31]

	out[10] = crockford[(rnd[0]&248)>>3]
	out[11] = crockford[((rnd[0]&7)<<2)|((rnd[1]&192)>>6)]
	out[12] = crockford[(rnd[1]&62)>>1]
	out[13] = crockford[((rnd[1]&1)<<4)|((rnd[2]&240)>>4)]
	out[14] = crockford[((rnd[2]&15)<<1)|((rnd[3]&128)>>7)]
	out[15] = crockford[(rnd[3]&124)>>2]
	out[16] = crockford[((rnd[3]&3)<<3)|((rnd[4]&224)>>5)]
	out[17] = crockford[rnd[4]&31]
	out[18] = crockford[(rnd[5]&248)>>3]
	out[19] = crockford[((rnd[5]&7)<<2)|((rnd[6]&192)>>6)]
	out[20] = crockford[(rnd[6]&62)>>1]
	out[21] = crockford[((rnd[6]&1)<<4)|((rnd[7]&240)>>4)]
	out[22] = crockford[((rnd[7]&15)<<1)|((rnd[8]&128)>>7)]
	out[23] = crockford[(rnd[8]&124)>>2]
	out[24] = crockford[((rnd[8]&3)<<3)|((rnd[9]&224)>>5)]
	out[25] = crockford[rnd[9]&31]

	return string(out[:])
}
