package binary

import (
	"bytes"
	"encoding/binary"

	"github.com/wazerocore/wazerocore/internal/leb128"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

// EncodeModule re-serializes m to the WebAssembly 1.0 binary format. It is
// the structural inverse of DecodeModule: decoding its output yields a
// Module equal to m (the decode/re-encode idempotence property). The bytes
// can differ from the binary m was decoded from: LEB128 values are written
// in minimal width, runs of equal local types are regrouped, the "name"
// section is written before the other custom sections, and name-map
// entries follow Go map order.
func EncodeModule(m *wasm.Module) []byte {
	buf := &bytes.Buffer{}
	var magicBytes [4]byte
	binary.LittleEndian.PutUint32(magicBytes[:], magic)
	buf.Write(magicBytes[:])
	var verBytes [4]byte
	binary.LittleEndian.PutUint32(verBytes[:], version)
	buf.Write(verBytes[:])

	writeSection(buf, sectionType, encodeTypeSection(m))
	writeSection(buf, sectionImport, encodeImportSection(m))
	writeSection(buf, sectionFunction, encodeFunctionSection(m))
	writeSection(buf, sectionTable, encodeTableSection(m))
	writeSection(buf, sectionMemory, encodeMemorySection(m))
	writeSection(buf, sectionGlobal, encodeGlobalSection(m))
	writeSection(buf, sectionExport, encodeExportSection(m))
	if m.StartSection != nil {
		writeSection(buf, sectionStart, leb128.EncodeUint32(*m.StartSection))
	}
	writeSection(buf, sectionElement, encodeElementSection(m))
	writeSection(buf, sectionCode, encodeCodeSection(m))
	writeSection(buf, sectionData, encodeDataSection(m))
	if m.NameSection != nil {
		writeCustomSection(buf, "name", encodeNameSection(m.NameSection))
	}
	for _, cs := range m.CustomSections {
		writeCustomSection(buf, cs.Name, cs.Data)
	}
	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, id sectionID, payload []byte) {
	if len(payload) == 0 {
		return
	}
	buf.WriteByte(id)
	buf.Write(leb128.EncodeUint32(uint32(len(payload))))
	buf.Write(payload)
}

func writeCustomSection(buf *bytes.Buffer, name string, data []byte) {
	payload := &bytes.Buffer{}
	writeName(payload, name)
	payload.Write(data)
	buf.WriteByte(sectionCustom)
	buf.Write(leb128.EncodeUint32(uint32(payload.Len())))
	buf.Write(payload.Bytes())
}

func writeName(buf *bytes.Buffer, s string) {
	buf.Write(leb128.EncodeUint32(uint32(len(s))))
	buf.WriteString(s)
}

func writeLimits(buf *bytes.Buffer, l wasm.Limits) {
	if l.Max != nil {
		buf.WriteByte(1)
		buf.Write(leb128.EncodeUint32(l.Min))
		buf.Write(leb128.EncodeUint32(*l.Max))
	} else {
		buf.WriteByte(0)
		buf.Write(leb128.EncodeUint32(l.Min))
	}
}

func writeInitExpr(buf *bytes.Buffer, e wasm.InitExpr) {
	buf.WriteByte(e.Opcode)
	switch e.Opcode {
	case wasm.OpcodeI32Const:
		buf.Write(leb128.EncodeInt32(int32(e.Value)))
	case wasm.OpcodeI64Const:
		buf.Write(leb128.EncodeInt64(int64(e.Value)))
	case wasm.OpcodeF32Const:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(e.Value))
		buf.Write(b[:])
	case wasm.OpcodeF64Const:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], e.Value)
		buf.Write(b[:])
	case wasm.OpcodeGetGlobal:
		buf.Write(leb128.EncodeUint32(e.GlobalIndex))
	}
	buf.WriteByte(wasm.OpcodeEnd)
}

func encodeTypeSection(m *wasm.Module) []byte {
	if len(m.TypeSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.TypeSection))))
	for _, t := range m.TypeSection {
		buf.WriteByte(0x60)
		buf.Write(leb128.EncodeUint32(uint32(len(t.Params))))
		buf.Write(t.Params)
		buf.Write(leb128.EncodeUint32(uint32(len(t.Results))))
		buf.Write(t.Results)
	}
	return buf.Bytes()
}

func encodeImportSection(m *wasm.Module) []byte {
	if len(m.ImportSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.ImportSection))))
	for _, im := range m.ImportSection {
		writeName(buf, im.Module)
		writeName(buf, im.Name)
		buf.WriteByte(im.Kind)
		switch im.Kind {
		case wasm.ExternalKindFunction:
			buf.Write(leb128.EncodeUint32(im.DescFunc))
		case wasm.ExternalKindTable:
			buf.WriteByte(im.DescTable.ElementType)
			writeLimits(buf, im.DescTable.Limits)
		case wasm.ExternalKindMemory:
			writeLimits(buf, im.DescMemory.Limits)
		case wasm.ExternalKindGlobal:
			buf.WriteByte(im.DescGlobal.ValType)
			if im.DescGlobal.Mutable {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		}
	}
	return buf.Bytes()
}

func encodeFunctionSection(m *wasm.Module) []byte {
	if len(m.FunctionSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.FunctionSection))))
	for _, idx := range m.FunctionSection {
		buf.Write(leb128.EncodeUint32(idx))
	}
	return buf.Bytes()
}

func encodeTableSection(m *wasm.Module) []byte {
	if len(m.TableSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.TableSection))))
	for _, t := range m.TableSection {
		buf.WriteByte(t.ElementType)
		writeLimits(buf, t.Limits)
	}
	return buf.Bytes()
}

func encodeMemorySection(m *wasm.Module) []byte {
	if len(m.MemorySection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.MemorySection))))
	for _, mt := range m.MemorySection {
		writeLimits(buf, mt.Limits)
	}
	return buf.Bytes()
}

func encodeGlobalSection(m *wasm.Module) []byte {
	if len(m.GlobalSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.GlobalSection))))
	for _, g := range m.GlobalSection {
		buf.WriteByte(g.Type.ValType)
		if g.Type.Mutable {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeInitExpr(buf, g.Init)
	}
	return buf.Bytes()
}

func encodeExportSection(m *wasm.Module) []byte {
	if len(m.ExportSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.ExportSection))))
	for _, ex := range m.ExportSection {
		writeName(buf, ex.Name)
		buf.WriteByte(ex.Kind)
		buf.Write(leb128.EncodeUint32(ex.Index))
	}
	return buf.Bytes()
}

func encodeElementSection(m *wasm.Module) []byte {
	if len(m.ElementSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.ElementSection))))
	for _, seg := range m.ElementSection {
		buf.Write(leb128.EncodeUint32(seg.TableIndex))
		writeInitExpr(buf, seg.Offset)
		buf.Write(leb128.EncodeUint32(uint32(len(seg.Init))))
		for _, fi := range seg.Init {
			buf.Write(leb128.EncodeUint32(fi))
		}
	}
	return buf.Bytes()
}

func encodeCodeSection(m *wasm.Module) []byte {
	if len(m.CodeSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.CodeSection))))
	for _, code := range m.CodeSection {
		body := &bytes.Buffer{}
		runs := compressLocals(code.LocalTypes)
		body.Write(leb128.EncodeUint32(uint32(len(runs))))
		for _, run := range runs {
			body.Write(leb128.EncodeUint32(run.count))
			body.WriteByte(run.typ)
		}
		body.Write(code.Body)
		buf.Write(leb128.EncodeUint32(uint32(body.Len())))
		buf.Write(body.Bytes())
	}
	return buf.Bytes()
}

type localRun struct {
	count uint32
	typ   wasm.ValueType
}

func compressLocals(locals []wasm.ValueType) []localRun {
	var runs []localRun
	for _, t := range locals {
		if len(runs) > 0 && runs[len(runs)-1].typ == t {
			runs[len(runs)-1].count++
		} else {
			runs = append(runs, localRun{count: 1, typ: t})
		}
	}
	return runs
}

func encodeDataSection(m *wasm.Module) []byte {
	if len(m.DataSection) == 0 {
		return nil
	}
	buf := &bytes.Buffer{}
	buf.Write(leb128.EncodeUint32(uint32(len(m.DataSection))))
	for _, seg := range m.DataSection {
		buf.Write(leb128.EncodeUint32(seg.MemoryIndex))
		writeInitExpr(buf, seg.Offset)
		buf.Write(leb128.EncodeUint32(uint32(len(seg.Init))))
		buf.Write(seg.Init)
	}
	return buf.Bytes()
}

func encodeNameSection(ns *wasm.NameSection) []byte {
	buf := &bytes.Buffer{}
	if ns.ModuleName != "" {
		sub := &bytes.Buffer{}
		writeName(sub, ns.ModuleName)
		buf.WriteByte(0)
		buf.Write(leb128.EncodeUint32(uint32(sub.Len())))
		buf.Write(sub.Bytes())
	}
	if len(ns.FunctionNames) > 0 {
		sub := &bytes.Buffer{}
		sub.Write(leb128.EncodeUint32(uint32(len(ns.FunctionNames))))
		for idx, name := range ns.FunctionNames {
			sub.Write(leb128.EncodeUint32(idx))
			writeName(sub, name)
		}
		buf.WriteByte(1)
		buf.Write(leb128.EncodeUint32(uint32(sub.Len())))
		buf.Write(sub.Bytes())
	}
	if len(ns.LocalNames) > 0 {
		sub := &bytes.Buffer{}
		sub.Write(leb128.EncodeUint32(uint32(len(ns.LocalNames))))
		for fnIdx, locals := range ns.LocalNames {
			sub.Write(leb128.EncodeUint32(fnIdx))
			sub.Write(leb128.EncodeUint32(uint32(len(locals))))
			for localIdx, name := range locals {
				sub.Write(leb128.EncodeUint32(localIdx))
				writeName(sub, name)
			}
		}
		buf.WriteByte(2)
		buf.Write(leb128.EncodeUint32(uint32(sub.Len())))
		buf.Write(sub.Bytes())
	}
	return buf.Bytes()
}
