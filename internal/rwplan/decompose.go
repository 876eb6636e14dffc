package rwplan

// opShape describes one register-sized or block-sized chunk of a
// transaction's byte range, before any per-envelope budget splitting.
// Size is 1, 2, 4, or 8 for a fixed-width register op, or any multiple of
// 8 above 8 up to pl0.MaxBlockBytes for a block op.
type opShape struct {
	Offset int // byte offset from the transaction's start address
	Size   int
	Block  bool
}

const maxBlockChunk = 1024

// decomposeRange splits an n-byte range starting at a byte-addressable
// address into 1/2/4-byte register chunks for its unaligned prefix and
// suffix, with 8-byte-aligned block chunks (capped at maxBlockChunk) for
// the bulk in between (§4.4 steps 1-3).
func decomposeRange(addr uint64, n uint32) []opShape {
	var shapes []opShape
	remaining := int(n)
	offset := 0
	a := addr

	emit := func(size int) {
		shapes = append(shapes, opShape{Offset: offset, Size: size})
		offset += size
		remaining -= size
		a += uint64(size)
	}

	// Step 1: unaligned prefix, growing alignment 1 -> 2 -> 4 -> 8.
	if remaining > 0 && a%2 == 1 {
		emit(1)
	}
	if remaining >= 2 && a%4 == 2 {
		emit(2)
	}
	if remaining >= 4 && a%8 == 4 {
		emit(4)
	}

	// Step 2: 8-byte-aligned bulk. A bulk of exactly 8 bytes uses rd64/wr64
	// rather than a one-chunk block; anything larger chunks into block ops
	// (further capped at the envelope level against budget room).
	for remaining >= 8 {
		chunk := remaining - remaining%8
		if chunk > maxBlockChunk {
			chunk = maxBlockChunk
		}
		if chunk == 8 {
			emit(8)
			continue
		}
		shapes = append(shapes, opShape{Offset: offset, Size: chunk, Block: true})
		offset += chunk
		remaining -= chunk
		a += uint64(chunk)
	}

	// Step 3: unaligned suffix, shrinking symmetrically 4 -> 2 -> 1.
	if remaining >= 4 {
		emit(4)
	}
	if remaining >= 2 {
		emit(2)
	}
	if remaining >= 1 {
		emit(1)
	}

	return shapes
}

// splitBlockChunk further divides a block-sized shape into chunks no
// larger than max, each an 8-byte multiple. Used when a single block
// shape does not fit the room left in the current envelope.
func splitBlockChunk(offset, size, max int) []opShape {
	max -= max % 8
	if max < 8 {
		max = 8
	}
	var out []opShape
	for size > 0 {
		c := size
		if c > max {
			c = max
		}
		out = append(out, opShape{Offset: offset, Size: c, Block: true})
		offset += c
		size -= c
	}
	return out
}
