package storage

import (
	"bytes"
	"crypto/rand"
)

// Page 1 validity check: a random marker is written at [100,108) when the
// database opens and copied to [108,116) on a clean close. Different halves
// on the next open mean the last run did not shut down cleanly.
const (
	offVC = 100
	lenVC = 8
)

// InitPageOneRaw returns the initial content of page 1.
func InitPageOneRaw() []byte {
	raw := make([]byte, PageSize)
	setVcOpen(raw)
	return raw
}

func SetVcOpen(p *Page) {
	p.SetDirty(true)
	setVcOpen(p.Data())
}

func setVcOpen(raw []byte) {
	if _, err := rand.Read(raw[offVC : offVC+lenVC]); err != nil {
		panic(err)
	}
}

func SetVcClose(p *Page) {
	p.SetDirty(true)
	setVcClose(p.Data())
}

func setVcClose(raw []byte) {
	copy(raw[offVC+lenVC:offVC+2*lenVC], raw[offVC:offVC+lenVC])
}

// CheckVc reports whether the open and close markers match.
func CheckVc(p *Page) bool {
	return checkVc(p.Data())
}

func checkVc(raw []byte) bool {
	return bytes.Equal(raw[offVC:offVC+lenVC], raw[offVC+lenVC:offVC+2*lenVC])
}
