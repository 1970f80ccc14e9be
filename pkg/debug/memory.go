package debug

import (
	"context"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

func (s *Session) requireLink(what string) error {
	if s.state < StateLinkReady {
		return violation("%s in state %s", what, s.state)
	}
	return nil
}

// wordRange returns the word-aligned span covering [addr, addr+n).
func wordRange(addr uint64, n int) (start uint32, words int, err error) {
	end := addr + uint64(n)
	if end > 1<<32 {
		return 0, 0, violation("access 0x%x+%d beyond 32-bit address space", addr, n)
	}
	first := addr &^ 3
	last := (end + 3) &^ 3
	return uint32(first), int((last - first) / 4), nil
}

// WriteMemory stores data through system bus access. Transactions go out in
// ascending address order, at most Config.ChunkSize bytes each; partial head
// and tail words are read, merged and written back.
func (s *Session) WriteMemory(ctx context.Context, addr uint64, data []byte) error {
	if err := s.requireLink("write memory"); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	start, count, err := wordRange(addr, len(data))
	if err != nil {
		return err
	}

	buf := make([]byte, count*4)
	head := int(addr - uint64(start))
	if head != 0 || (head+len(data))%4 != 0 {
		if err := s.mergeEdges(ctx, start, buf, head, len(data)); err != nil {
			return errors.Trace(err)
		}
	}
	copy(buf[head:], data)

	glog.V(2).Infof("debug: write 0x%08x..0x%08x (%d bytes)", addr, addr+uint64(len(data)), len(data))
	for off := 0; off < len(buf); off += s.cfg.ChunkSize {
		end := off + s.cfg.ChunkSize
		if end > len(buf) {
			end = len(buf)
		}
		chunkAddr := start + uint32(off)
		words := bytesToWords(buf[off:end])
		err := s.retry(ctx, "write memory", func() error {
			return s.writeWords(ctx, chunkAddr, words)
		})
		if err != nil {
			return errors.Annotatef(err, "write at 0x%08x", chunkAddr)
		}
	}
	return nil
}

// mergeEdges fills the first and last word of buf with current memory so a
// partial write leaves the untouched bytes intact.
func (s *Session) mergeEdges(ctx context.Context, start uint32, buf []byte, head, n int) error {
	edges := []int{0}
	if last := len(buf)/4 - 1; last > 0 {
		edges = append(edges, last)
	}
	for _, idx := range edges {
		lo, hi := idx*4, idx*4+4
		if head <= lo && head+n >= hi {
			continue
		}
		var words []uint32
		err := s.retry(ctx, "read-modify-write", func() error {
			var err error
			words, err = s.readWords(ctx, start+uint32(lo), 1)
			return err
		})
		if err != nil {
			return errors.Trace(err)
		}
		binary.LittleEndian.PutUint32(buf[lo:hi], words[0])
	}
	return nil
}

// ReadMemory fetches n bytes from addr.
func (s *Session) ReadMemory(ctx context.Context, addr uint64, n int) ([]byte, error) {
	if err := s.requireLink("read memory"); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, violation("negative read length %d", n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	start, count, err := wordRange(addr, n)
	if err != nil {
		return nil, err
	}

	glog.V(2).Infof("debug: read 0x%08x..0x%08x (%d bytes)", addr, addr+uint64(n), n)
	buf := make([]byte, 0, count*4)
	perChunk := s.cfg.ChunkSize / 4
	for i := 0; i < count; i += perChunk {
		num := perChunk
		if num > count-i {
			num = count - i
		}
		chunkAddr := start + uint32(i*4)
		var words []uint32
		err := s.retry(ctx, "read memory", func() error {
			var err error
			words, err = s.readWords(ctx, chunkAddr, num)
			return err
		})
		if err != nil {
			return nil, errors.Annotatef(err, "read at 0x%08x", chunkAddr)
		}
		buf = append(buf, wordsToBytes(words)...)
	}

	head := int(addr - uint64(start))
	return buf[head : head+n], nil
}

// writeWords is one autoincrementing system bus burst.
func (s *Session) writeWords(ctx context.Context, addr uint32, words []uint32) error {
	sbcs := uint32(SBCSAccess32 | SBCSAutoIncrement | SBCSBusyError | SBCSErrorMask)
	if err := s.dtm.WriteDMI(ctx, DMSBCS, sbcs); err != nil {
		return errors.Trace(err)
	}
	if err := s.dtm.WriteDMI(ctx, DMSBAddress0, addr); err != nil {
		return errors.Trace(err)
	}
	for _, w := range words {
		if err := s.dtm.WriteDMI(ctx, DMSBData0, w); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(s.checkSBA(ctx, addr))
}

// readWords is one autoincrementing read burst. Read-on-data is dropped
// before the final word so the bus is never read past the range.
func (s *Session) readWords(ctx context.Context, addr uint32, n int) ([]uint32, error) {
	auto := uint32(SBCSAccess32 | SBCSAutoIncrement | SBCSBusyError | SBCSErrorMask | SBCSReadOnAddr)
	if n > 1 {
		auto |= SBCSReadOnData
	}
	if err := s.dtm.WriteDMI(ctx, DMSBCS, auto); err != nil {
		return nil, errors.Trace(err)
	}
	if err := s.dtm.WriteDMI(ctx, DMSBAddress0, addr); err != nil {
		return nil, errors.Trace(err)
	}

	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		if i == n-1 && n > 1 {
			if err := s.dtm.WriteDMI(ctx, DMSBCS, SBCSAccess32|SBCSAutoIncrement); err != nil {
				return nil, errors.Trace(err)
			}
		}
		v, err := s.dtm.ReadDMI(ctx, DMSBData0)
		if err != nil {
			return nil, errors.Trace(err)
		}
		out[i] = v
	}
	return out, errors.Trace(s.checkSBA(ctx, addr))
}

// checkSBA waits for the bus to go idle and turns sticky bus errors into
// protocol violations, clearing them on the way.
func (s *Session) checkSBA(ctx context.Context, addr uint32) error {
	sbcs, err := s.poll(ctx, DMSBCS, "system bus", func(v uint32) bool { return v&SBCSBusy == 0 })
	if err != nil {
		return errors.Trace(err)
	}
	if sbcs&(SBCSBusyError|SBCSErrorMask) == 0 {
		return nil
	}
	if err := s.dtm.WriteDMI(ctx, DMSBCS, SBCSBusyError|SBCSErrorMask); err != nil {
		return errors.Trace(err)
	}
	if sbcs&SBCSBusyError != 0 {
		return violation("system bus busy error near 0x%08x", addr)
	}
	return violation("system bus error %d near 0x%08x", (sbcs&SBCSErrorMask)>>SBCSErrorShift, addr)
}

func bytesToWords(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
