package kernel

// Memset sets every byte of target to value. Instead of a byte-by-byte loop
// it performs log2(len(target)) copy calls which is considerably faster for
// the page-sized buffers it is usually called with.
func Memset(target []byte, value byte) {
	if len(target) == 0 {
		return
	}

	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies min(len(src), len(dst)) bytes from src to dst and returns
// the number of copied bytes.
func Memcopy(src, dst []byte) int {
	return copy(dst, src)
}
