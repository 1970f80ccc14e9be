package image

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Intel HEX record types.
const (
	hexData          = 0x00
	hexEOF           = 0x01
	hexExtSegment    = 0x02
	hexStartSegment  = 0x03
	hexExtLinear     = 0x04
	hexStartLinear   = 0x05
	hexMinRecordSize = 5
)

type hexChunk struct {
	addr uint64
	data []byte
}

// ParseHex reads an Intel HEX file. Contiguous data records are merged into
// sections. Without a start address record the entry is the lowest loaded
// address.
func ParseHex(data []byte) (*Image, error) {
	var (
		chunks   []hexChunk
		base     uint64
		entry    uint64
		hasEntry bool
		sawEOF   bool
	)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if sawEOF {
			return nil, fmt.Errorf("%w: line %d: data after end-of-file record", ErrMalformedImage, line)
		}
		rec, err := decodeHexRecord(text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedImage, line, err)
		}
		count := int(rec[0])
		offset := uint64(rec[1])<<8 | uint64(rec[2])
		payload := rec[4 : 4+count]

		switch rec[3] {
		case hexData:
			if count > 0 {
				chunks = append(chunks, hexChunk{addr: base + offset, data: append([]byte(nil), payload...)})
			}
		case hexEOF:
			sawEOF = true
		case hexExtSegment:
			if count != 2 {
				return nil, fmt.Errorf("%w: line %d: segment record length %d", ErrMalformedImage, line, count)
			}
			base = (uint64(payload[0])<<8 | uint64(payload[1])) << 4
		case hexExtLinear:
			if count != 2 {
				return nil, fmt.Errorf("%w: line %d: linear record length %d", ErrMalformedImage, line, count)
			}
			base = (uint64(payload[0])<<8 | uint64(payload[1])) << 16
		case hexStartSegment:
			if count != 4 {
				return nil, fmt.Errorf("%w: line %d: start segment record length %d", ErrMalformedImage, line, count)
			}
			cs := uint64(payload[0])<<8 | uint64(payload[1])
			ip := uint64(payload[2])<<8 | uint64(payload[3])
			entry, hasEntry = cs<<4+ip, true
		case hexStartLinear:
			if count != 4 {
				return nil, fmt.Errorf("%w: line %d: start linear record length %d", ErrMalformedImage, line, count)
			}
			entry = uint64(payload[0])<<24 | uint64(payload[1])<<16 | uint64(payload[2])<<8 | uint64(payload[3])
			hasEntry = true
		default:
			return nil, fmt.Errorf("%w: line %d: unknown record type 0x%02x", ErrMalformedImage, line, rec[3])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedImage, err)
	}
	if !sawEOF {
		return nil, fmt.Errorf("%w: missing end-of-file record", ErrMalformedImage)
	}

	img := &Image{Format: "ihex", Sections: mergeChunks(chunks), Entry: entry}
	if !hasEntry {
		for i, sec := range img.Sections {
			if i == 0 || sec.Address < img.Entry {
				img.Entry = sec.Address
			}
		}
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// decodeHexRecord checks framing and checksum and returns the raw record
// bytes: count, address, type, payload, checksum.
func decodeHexRecord(text string) ([]byte, error) {
	if text[0] != ':' {
		return nil, fmt.Errorf("record does not start with ':'")
	}
	rec, err := hex.DecodeString(text[1:])
	if err != nil {
		return nil, err
	}
	if len(rec) < hexMinRecordSize {
		return nil, fmt.Errorf("record too short")
	}
	if len(rec) != int(rec[0])+hexMinRecordSize {
		return nil, fmt.Errorf("record length %d does not match byte count %d", len(rec), rec[0])
	}
	var sum byte
	for _, b := range rec {
		sum += b
	}
	if sum != 0 {
		return nil, fmt.Errorf("checksum mismatch")
	}
	return rec, nil
}

// mergeChunks joins each data record onto the previous one when it
// continues it exactly, so sections keep file order. Overlaps are left to
// Validate.
func mergeChunks(chunks []hexChunk) []Section {
	var out []Section
	for _, c := range chunks {
		if n := len(out); n > 0 && c.addr == out[n-1].End() {
			out[n-1].Data = append(out[n-1].Data, c.data...)
			continue
		}
		out = append(out, Section{
			Name:    fmt.Sprintf("hex%d", len(out)),
			Address: c.addr,
			Data:    c.data,
		})
	}
	return out
}
