package index

import (
	"bytes"
	"encoding/binary"
)

func clampSticky(s int) uint16 {
	if s < 0 {
		s = 0
	}
	if s > 100 {
		s = 100
	}
	return uint16(s)
}

// Ordered index key: sticky and time are bit-inverted so a forward
// cursor walk yields highest-sticky, newest-first.
// key = invSticky(2) + invTime(8) + 0x00 + slug
func makeStickyTimeSlugKey(sticky int, unixNano int64, slug string) []byte {
	buf := make([]byte, 2+8+1+len(slug))
	binary.BigEndian.PutUint16(buf[0:2], ^clampSticky(sticky))
	binary.BigEndian.PutUint64(buf[2:10], ^uint64(unixNano))
	buf[10] = 0x00
	copy(buf[11:], slug)
	return buf
}

func slugFromStickyTimeSlugKey(k []byte) string {
	if len(k) < 2+8+2 {
		return ""
	}
	i := bytes.IndexByte(k[10:], 0x00)
	if i < 0 {
		return ""
	}
	pos := 10 + i
	if pos+1 >= len(k) {
		return ""
	}
	return string(k[pos+1:])
}
