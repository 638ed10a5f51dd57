package storage

import (
	"github.com/tuannm99/novadm/internal/alias/bx"
)

// Ordinary page: [FSO u16][records...]. Records are only appended, free
// space never shrinks back.
const (
	offFree      = 0
	offData      = 2
	MaxFreeSpace = PageSize - offData
)

func InitPageXRaw() []byte {
	raw := make([]byte, PageSize)
	setFSO(raw, offData)
	return raw
}

func setFSO(raw []byte, v uint16) { bx.PutU16At(raw, offFree, v) }

// fso returns the free space offset. A zeroed page that was never
// initialized reads as empty.
func fso(raw []byte) int {
	v := int(bx.U16At(raw, offFree))
	if v < offData {
		return offData
	}
	return v
}

// Insert appends raw at the free space offset and returns where it went.
func Insert(p *Page, raw []byte) (uint16, error) {
	data := p.Data()
	off := fso(data)
	if off+len(raw) > PageSize {
		return 0, ErrNoSpace
	}
	p.SetDirty(true)
	copy(data[off:], raw)
	setFSO(data, uint16(off+len(raw)))
	return uint16(off), nil
}

func FreeSpace(p *Page) int {
	return PageSize - fso(p.Data())
}

// RecoverInsert replays an insert at a known offset. The free space offset
// only moves forward, so replaying the same insert twice is harmless.
func RecoverInsert(p *Page, raw []byte, offset uint16) error {
	if err := checkBounds(offset, raw); err != nil {
		return err
	}
	data := p.Data()
	p.SetDirty(true)
	copy(data[offset:], raw)

	if end := int(offset) + len(raw); fso(data) < end {
		setFSO(data, uint16(end))
	}
	return nil
}

// RecoverUpdate replays an in-place update; the free space offset is left
// alone.
func RecoverUpdate(p *Page, raw []byte, offset uint16) error {
	if err := checkBounds(offset, raw); err != nil {
		return err
	}
	p.SetDirty(true)
	copy(p.Data()[offset:], raw)
	return nil
}

func checkBounds(offset uint16, raw []byte) error {
	if int(offset) < offData || int(offset)+len(raw) > PageSize {
		return ErrOutOfPage
	}
	return nil
}
