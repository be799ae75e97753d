package pebble

import "encoding/binary"

const (
	attemptPrefix = "a/"
	timePrefix    = "t/"
	roundPrefix   = "r/"
)

func attemptKey(id string) []byte { return []byte(attemptPrefix + id) }

// timeKey orders attempts by creation time; big-endian micros sort
// lexicographically.
func timeKey(micros int64, id string) []byte {
	k := make([]byte, 0, len(timePrefix)+9+len(id))
	k = append(k, timePrefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(micros))
	k = append(k, '/')
	return append(k, id...)
}

// timeBound is the exclusive upper bound of every time key before micros.
func timeBound(micros int64) []byte {
	k := append([]byte(timePrefix), make([]byte, 8)...)
	binary.BigEndian.PutUint64(k[len(timePrefix):], uint64(micros))
	return k
}

func roundKey(round, id string) []byte { return []byte(roundPrefix + round + "/" + id) }

func roundPrefixKey(round string) []byte { return []byte(roundPrefix + round + "/") }

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// idFromIndex returns the attempt id that ends an index key.
func idFromIndex(key []byte, prefixLen int) string {
	return string(key[prefixLen:])
}
