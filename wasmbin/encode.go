package wasmbin

import "encoding/binary"

// WebAssembly binary format constants
const (
	Magic   uint32 = 0x6d736100 // "\0asm" little-endian
	Version uint32 = 1

	SectionMemory byte = 5
	SectionExport byte = 7

	ExportKindMemory byte = 0x02

	limitsMinOnly byte = 0x00
	limitsMinMax  byte = 0x01
)

// writer accumulates binary-format fields.
type writer struct {
	buf []byte
}

func (w *writer) byteVal(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) u32LE(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = AppendLEB128u(w.buf, v)
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.bytes([]byte(s))
}

func (w *writer) section(id byte, payload []byte) {
	w.byteVal(id)
	w.u32(uint32(len(payload)))
	w.bytes(payload)
}

// MemoryModule encodes a module defining one memory of [minPages, maxPages]
// pages, exported under exportName.
func MemoryModule(exportName string, minPages, maxPages uint32) []byte {
	var w writer
	w.u32LE(Magic)
	w.u32LE(Version)

	var mem writer
	mem.u32(1) // one memory
	if maxPages > 0 {
		mem.byteVal(limitsMinMax)
		mem.u32(minPages)
		mem.u32(maxPages)
	} else {
		mem.byteVal(limitsMinOnly)
		mem.u32(minPages)
	}
	w.section(SectionMemory, mem.buf)

	var exp writer
	exp.u32(1) // one export
	exp.name(exportName)
	exp.byteVal(ExportKindMemory)
	exp.u32(0) // memory index
	w.section(SectionExport, exp.buf)

	return w.buf
}
