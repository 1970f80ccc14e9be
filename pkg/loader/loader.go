// Package loader places an executable image in target memory through a
// debug transport and checks it landed intact.
package loader

import (
	"bytes"
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/OpenTraceLab/OpenTraceSoC/pkg/debug"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/dmatest"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/image"
	"github.com/OpenTraceLab/OpenTraceSoC/pkg/lfsr"
)

// ErrVerifyMismatch: target memory does not hold what was loaded.
var ErrVerifyMismatch = stderrors.New("loader: read-back mismatch")

// VerifyError locates the first differing byte.
type VerifyError struct {
	Section string
	Address uint64
	Offset  uint64
	Want    byte
	Got     byte
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("loader: section %s differs at 0x%08x (+0x%x): want 0x%02x, got 0x%02x",
		e.Section, e.Address+e.Offset, e.Offset, e.Want, e.Got)
}

func (e *VerifyError) Unwrap() error { return ErrVerifyMismatch }

// Load writes every section of img in order and then points the PC at the
// entry address, which it returns. Transport errors are returned as they
// come; retrying is the transport's business.
func Load(ctx context.Context, t debug.Transport, img *image.Image) (uint64, error) {
	if img.Entry > 0xffffffff {
		return 0, errors.Errorf("entry 0x%x does not fit a 32-bit PC", img.Entry)
	}
	for _, s := range img.Sections {
		glog.V(1).Infof("loader: %s", s)
		if err := t.WriteMemory(ctx, s.Address, s.Data); err != nil {
			return 0, errors.Annotatef(err, "load section %s at 0x%08x", s.Name, s.Address)
		}
	}
	if err := t.WriteRegister(ctx, debug.RegPC, uint32(img.Entry)); err != nil {
		return 0, errors.Annotatef(err, "set entry 0x%08x", img.Entry)
	}
	glog.V(1).Infof("loader: %d bytes in %d sections, entry 0x%08x", img.Size(), len(img.Sections), img.Entry)
	return img.Entry, nil
}

// Verify reads every section back and compares it with the image.
func Verify(ctx context.Context, t debug.Transport, img *image.Image) error {
	for _, s := range img.Sections {
		got, err := t.ReadMemory(ctx, s.Address, len(s.Data))
		if err != nil {
			return errors.Annotatef(err, "read back section %s", s.Name)
		}
		if bytes.Equal(got, s.Data) {
			continue
		}
		for i := range s.Data {
			if i >= len(got) || got[i] != s.Data[i] {
				ve := &VerifyError{Section: s.Name, Address: s.Address, Offset: uint64(i), Want: s.Data[i]}
				if i < len(got) {
					ve.Got = got[i]
				}
				return ve
			}
		}
	}
	return nil
}

// MemoryTest writes words values from gen starting at addr, reads them back
// and compares word by word, stopping at the first difference.
func MemoryTest(ctx context.Context, t debug.Transport, addr uint64, words int, gen *lfsr.Generator) (dmatest.ComparisonResult, error) {
	var res dmatest.ComparisonResult
	if words <= 0 {
		return res, nil
	}
	want := make([]uint32, words)
	gen.Fill(want)
	buf := make([]byte, words*4)
	for i, w := range want {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}

	glog.V(1).Infof("loader: memory test %d words at 0x%08x", words, addr)
	if err := t.WriteMemory(ctx, addr, buf); err != nil {
		return res, errors.Annotatef(err, "memory test write at 0x%08x", addr)
	}
	got, err := t.ReadMemory(ctx, addr, len(buf))
	if err != nil {
		return res, errors.Annotatef(err, "memory test read at 0x%08x", addr)
	}
	if len(got) != len(buf) {
		return res, errors.Annotatef(debug.ErrProtocolViolation, "memory test read %d bytes, want %d", len(got), len(buf))
	}
	for i, w := range want {
		g := binary.LittleEndian.Uint32(got[i*4:])
		res.Compared++
		if g != w {
			res.MismatchFound = true
			res.Offset = uint32(i * 4)
			res.SourceValue = w
			res.DestValue = g
			break
		}
	}
	return res, nil
}
