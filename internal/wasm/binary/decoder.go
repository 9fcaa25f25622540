// Package binary decodes and encodes the WebAssembly 1.0 (MVP) binary
// module format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/wazerocore/wazerocore/internal/wasm"
)

const (
	magic           = 0x6d736100 // "\0asm"
	version  uint32 = 1
)

type sectionID = byte

const (
	sectionCustom sectionID = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
)

// DecodeModule parses a complete WebAssembly 1.0 binary from r.
func DecodeModule(r io.Reader) (*wasm.Module, error) {
	d := &decoder{r: bufReader(r)}
	return d.decode()
}

// bufReader lets the decoder use io.ReadFull uniformly whether or not the
// caller already passed a buffered reader.
func bufReader(r io.Reader) io.Reader { return r }

type decoder struct {
	r      io.Reader
	offset uint64
}

func (d *decoder) errf(format string, args ...interface{}) error {
	return &wasm.DecodeError{Offset: d.offset, Message: fmt.Sprintf(format, args...)}
}

func (d *decoder) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, d.errf("unexpected end of input: %v", err)
	}
	d.offset++
	return b[0], nil
}

func (d *decoder) readBytes(n uint32) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, d.errf("unexpected end of input reading %d bytes: %v", n, err)
	}
	d.offset += uint64(n)
	return buf, nil
}

func (d *decoder) readU32LE() (uint32, error) {
	b, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// readVarUint32/readVarUint64/readVarInt32/readVarInt64 decode a LEB128
// value directly from the stream, one byte at a time, so the decoder never
// needs to know an immediate's encoded length up front.
func (d *decoder) readVarUint32() (uint32, error) {
	v, n, err := readLEB(d.r, false, 32)
	if err != nil {
		return 0, d.errf("malformed varuint32: %v", err)
	}
	d.offset += n
	return uint32(v), nil
}

func (d *decoder) readVarUint64() (uint64, error) {
	v, n, err := readLEB(d.r, false, 64)
	if err != nil {
		return 0, d.errf("malformed varuint64: %v", err)
	}
	d.offset += n
	return v, nil
}

func (d *decoder) readVarInt32() (int32, error) {
	v, n, err := readLEB(d.r, true, 32)
	if err != nil {
		return 0, d.errf("malformed varint32: %v", err)
	}
	d.offset += n
	return int32(v), nil
}

func (d *decoder) readVarInt64() (int64, error) {
	v, n, err := readLEB(d.r, true, 64)
	if err != nil {
		return 0, d.errf("malformed varint64: %v", err)
	}
	d.offset += n
	return int64(v), nil
}

// readLEB reads one LEB128 value byte-by-byte from an io.Reader, since the
// leb128 package's Load* functions work against an in-memory slice and the
// module-level decoder streams instead of pre-slicing every immediate.
func readLEB(r io.Reader, signed bool, bits int) (uint64, uint64, error) {
	maxBytes := 5
	if bits == 64 {
		maxBytes = 10
	}
	var result uint64
	var shift uint
	var n uint64
	var b [1]byte
	var c byte
	for {
		if n == uint64(maxBytes) {
			return 0, 0, fmt.Errorf("too many continuation bytes")
		}
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, 0, err
		}
		c = b[0]
		n++
		result |= uint64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			break
		}
	}
	if signed && shift < 64 && c&0x40 != 0 {
		result |= ^uint64(0) << shift
	}
	return result, n, nil
}

func (d *decoder) readName() (string, error) {
	n, err := d.readVarUint32()
	if err != nil {
		return "", err
	}
	b, err := d.readBytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", d.errf("name is not valid utf-8")
	}
	return string(b), nil
}

func (d *decoder) readValueType() (wasm.ValueType, error) {
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return b, nil
	default:
		return 0, d.errf("invalid value type %#x", b)
	}
}

func (d *decoder) readLimits(hardMax uint32) (wasm.Limits, error) {
	flags, err := d.readByte()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := d.readVarUint32()
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{Min: min}
	if flags == 1 {
		max, err := d.readVarUint32()
		if err != nil {
			return wasm.Limits{}, err
		}
		l.Max = &max
	} else if flags != 0 {
		return wasm.Limits{}, d.errf("invalid limits flag %#x", flags)
	}
	return l, nil
}

func (d *decoder) decode() (*wasm.Module, error) {
	magicBytes, err := d.readU32LE()
	if err != nil {
		return nil, err
	}
	if magicBytes != magic {
		return nil, d.errf("invalid magic number %#x", magicBytes)
	}
	ver, err := d.readU32LE()
	if err != nil {
		return nil, err
	}
	if ver != version {
		return nil, d.errf("unsupported version %d", ver)
	}

	m := &wasm.Module{}
	var lastID = sectionID(0)
	seenNonCustom := false
	for {
		var idBuf [1]byte
		if _, err := io.ReadFull(d.r, idBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, d.errf("unexpected end of input reading section id: %v", err)
		}
		d.offset++
		id := idBuf[0]
		size, err := d.readVarUint32()
		if err != nil {
			return nil, err
		}
		payload, err := d.readBytes(size)
		if err != nil {
			return nil, err
		}
		sd := &decoder{r: bytes.NewReader(payload)}
		if id != sectionCustom {
			if seenNonCustom && id <= lastID {
				return nil, d.errf("section %d out of order", id)
			}
			lastID = id
			seenNonCustom = true
		}
		if err := decodeSection(m, id, sd); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeSection(m *wasm.Module, id sectionID, d *decoder) error {
	switch id {
	case sectionCustom:
		return decodeCustomSection(m, d)
	case sectionType:
		return decodeTypeSection(m, d)
	case sectionImport:
		return decodeImportSection(m, d)
	case sectionFunction:
		return decodeFunctionSection(m, d)
	case sectionTable:
		return decodeTableSection(m, d)
	case sectionMemory:
		return decodeMemorySection(m, d)
	case sectionGlobal:
		return decodeGlobalSection(m, d)
	case sectionExport:
		return decodeExportSection(m, d)
	case sectionStart:
		return decodeStartSection(m, d)
	case sectionElement:
		return decodeElementSection(m, d)
	case sectionCode:
		return decodeCodeSection(m, d)
	case sectionData:
		return decodeDataSection(m, d)
	default:
		return d.errf("unknown section id %d", id)
	}
}

func decodeCustomSection(m *wasm.Module, d *decoder) error {
	name, err := d.readName()
	if err != nil {
		return err
	}
	rest, err := io.ReadAll(d.r)
	if err != nil {
		return d.errf("reading custom section body: %v", err)
	}
	if name == "name" {
		ns, err := decodeNameSection(rest)
		if err != nil {
			return err
		}
		m.NameSection = ns
		return nil
	}
	m.CustomSections = append(m.CustomSections, wasm.CustomSection{Name: name, Data: rest})
	return nil
}

func decodeTypeSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.TypeSection = make([]wasm.FunctionType, count)
	for i := range m.TypeSection {
		form, err := d.readByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return d.errf("invalid function type form %#x", form)
		}
		nParams, err := d.readVarUint32()
		if err != nil {
			return err
		}
		var params []wasm.ValueType // nil when empty, as in a hand-built Module
		if nParams > 0 {
			params = make([]wasm.ValueType, nParams)
		}
		for j := range params {
			if params[j], err = d.readValueType(); err != nil {
				return err
			}
		}
		nResults, err := d.readVarUint32()
		if err != nil {
			return err
		}
		if nResults > 1 {
			return d.errf("function types with more than one result are not supported in Wasm 1.0")
		}
		var results []wasm.ValueType
		if nResults > 0 {
			results = make([]wasm.ValueType, nResults)
		}
		for j := range results {
			if results[j], err = d.readValueType(); err != nil {
				return err
			}
		}
		m.TypeSection[i] = wasm.FunctionType{Params: params, Results: results}
	}
	return nil
}

func decodeImportSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.ImportSection = make([]wasm.Import, count)
	for i := range m.ImportSection {
		mod, err := d.readName()
		if err != nil {
			return err
		}
		name, err := d.readName()
		if err != nil {
			return err
		}
		kind, err := d.readByte()
		if err != nil {
			return err
		}
		im := wasm.Import{Module: mod, Name: name, Kind: kind}
		switch kind {
		case wasm.ExternalKindFunction:
			if im.DescFunc, err = d.readVarUint32(); err != nil {
				return err
			}
		case wasm.ExternalKindTable:
			et, err := d.readByte()
			if err != nil {
				return err
			}
			if et != wasm.TableElementTypeFuncRef {
				return d.errf("invalid table element type %#x", et)
			}
			lim, err := d.readLimits(^uint32(0))
			if err != nil {
				return err
			}
			im.DescTable = wasm.TableType{ElementType: et, Limits: lim}
		case wasm.ExternalKindMemory:
			lim, err := d.readLimits(wasm.MemoryMaxPages)
			if err != nil {
				return err
			}
			im.DescMemory = wasm.MemoryType{Limits: lim}
		case wasm.ExternalKindGlobal:
			vt, err := d.readValueType()
			if err != nil {
				return err
			}
			mutByte, err := d.readByte()
			if err != nil {
				return err
			}
			if mutByte > 1 {
				return d.errf("invalid global mutability %#x", mutByte)
			}
			im.DescGlobal = wasm.GlobalType{ValType: vt, Mutable: mutByte == 1}
		default:
			return d.errf("unknown import kind %#x", kind)
		}
		m.ImportSection[i] = im
	}
	return nil
}

func decodeFunctionSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.FunctionSection = make([]wasm.Index, count)
	for i := range m.FunctionSection {
		if m.FunctionSection[i], err = d.readVarUint32(); err != nil {
			return err
		}
	}
	return nil
}

func decodeTableSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.TableSection = make([]wasm.TableType, count)
	for i := range m.TableSection {
		et, err := d.readByte()
		if err != nil {
			return err
		}
		if et != wasm.TableElementTypeFuncRef {
			return d.errf("invalid table element type %#x", et)
		}
		lim, err := d.readLimits(^uint32(0))
		if err != nil {
			return err
		}
		m.TableSection[i] = wasm.TableType{ElementType: et, Limits: lim}
	}
	return nil
}

func decodeMemorySection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.MemorySection = make([]wasm.MemoryType, count)
	for i := range m.MemorySection {
		lim, err := d.readLimits(wasm.MemoryMaxPages)
		if err != nil {
			return err
		}
		m.MemorySection[i] = wasm.MemoryType{Limits: lim}
	}
	return nil
}

func decodeGlobalSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.GlobalSection = make([]wasm.Global, count)
	for i := range m.GlobalSection {
		vt, err := d.readValueType()
		if err != nil {
			return err
		}
		mutByte, err := d.readByte()
		if err != nil {
			return err
		}
		init, err := d.readInitExpr()
		if err != nil {
			return err
		}
		m.GlobalSection[i] = wasm.Global{Type: wasm.GlobalType{ValType: vt, Mutable: mutByte == 1}, Init: init}
	}
	return nil
}

func decodeExportSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.ExportSection = make([]wasm.Export, count)
	for i := range m.ExportSection {
		name, err := d.readName()
		if err != nil {
			return err
		}
		kind, err := d.readByte()
		if err != nil {
			return err
		}
		idx, err := d.readVarUint32()
		if err != nil {
			return err
		}
		m.ExportSection[i] = wasm.Export{Name: name, Kind: kind, Index: idx}
	}
	return nil
}

func decodeStartSection(m *wasm.Module, d *decoder) error {
	idx, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.StartSection = &idx
	return nil
}

func decodeElementSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.ElementSection = make([]wasm.ElementSegment, count)
	for i := range m.ElementSection {
		tableIdx, err := d.readVarUint32()
		if err != nil {
			return err
		}
		offset, err := d.readInitExpr()
		if err != nil {
			return err
		}
		n, err := d.readVarUint32()
		if err != nil {
			return err
		}
		init := make([]wasm.Index, n)
		for j := range init {
			if init[j], err = d.readVarUint32(); err != nil {
				return err
			}
		}
		m.ElementSection[i] = wasm.ElementSegment{TableIndex: tableIdx, Offset: offset, Init: init}
	}
	return nil
}

func decodeCodeSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.CodeSection = make([]wasm.Code, count)
	for i := range m.CodeSection {
		bodySize, err := d.readVarUint32()
		if err != nil {
			return err
		}
		bodyBytes, err := d.readBytes(bodySize)
		if err != nil {
			return err
		}
		bd := &decoder{r: bytes.NewReader(bodyBytes)}
		localsCount, err := bd.readVarUint32()
		if err != nil {
			return err
		}
		var locals []wasm.ValueType
		for j := uint32(0); j < localsCount; j++ {
			n, err := bd.readVarUint32()
			if err != nil {
				return err
			}
			vt, err := bd.readValueType()
			if err != nil {
				return err
			}
			for k := uint32(0); k < n; k++ {
				locals = append(locals, vt)
			}
		}
		rest, err := io.ReadAll(bd.r)
		if err != nil {
			return bd.errf("reading function body: %v", err)
		}
		m.CodeSection[i] = wasm.Code{LocalTypes: locals, Body: rest}
	}
	return nil
}

func decodeDataSection(m *wasm.Module, d *decoder) error {
	count, err := d.readVarUint32()
	if err != nil {
		return err
	}
	m.DataSection = make([]wasm.DataSegment, count)
	for i := range m.DataSection {
		memIdx, err := d.readVarUint32()
		if err != nil {
			return err
		}
		offset, err := d.readInitExpr()
		if err != nil {
			return err
		}
		n, err := d.readVarUint32()
		if err != nil {
			return err
		}
		data, err := d.readBytes(n)
		if err != nil {
			return err
		}
		m.DataSection[i] = wasm.DataSegment{MemoryIndex: memIdx, Offset: offset, Init: data}
	}
	return nil
}

// readInitExpr decodes a constant expression: one const/get_global
// instruction followed by `end` (0x0b).
func (d *decoder) readInitExpr() (wasm.InitExpr, error) {
	op, err := d.readByte()
	if err != nil {
		return wasm.InitExpr{}, err
	}
	var e wasm.InitExpr
	e.Opcode = op
	switch op {
	case wasm.OpcodeI32Const:
		v, err := d.readVarInt32()
		if err != nil {
			return wasm.InitExpr{}, err
		}
		e.Value = uint64(uint32(v))
	case wasm.OpcodeI64Const:
		v, err := d.readVarInt64()
		if err != nil {
			return wasm.InitExpr{}, err
		}
		e.Value = uint64(v)
	case wasm.OpcodeF32Const:
		b, err := d.readBytes(4)
		if err != nil {
			return wasm.InitExpr{}, err
		}
		e.Value = uint64(binary.LittleEndian.Uint32(b))
	case wasm.OpcodeF64Const:
		b, err := d.readBytes(8)
		if err != nil {
			return wasm.InitExpr{}, err
		}
		e.Value = binary.LittleEndian.Uint64(b)
	case wasm.OpcodeGetGlobal:
		idx, err := d.readVarUint32()
		if err != nil {
			return wasm.InitExpr{}, err
		}
		e.GlobalIndex = idx
	default:
		return wasm.InitExpr{}, d.errf("opcode %#x is not valid in a constant expression", op)
	}
	end, err := d.readByte()
	if err != nil {
		return wasm.InitExpr{}, err
	}
	if end != wasm.OpcodeEnd {
		return wasm.InitExpr{}, d.errf("constant expression missing end opcode")
	}
	return e, nil
}

// decodeNameSection parses the optional "name" custom section.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-namesec
func decodeNameSection(data []byte) (*wasm.NameSection, error) {
	ns := &wasm.NameSection{FunctionNames: map[wasm.Index]string{}, LocalNames: map[wasm.Index]map[wasm.Index]string{}}
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		d := &decoder{r: r}
		subID, err := d.readByte()
		if err != nil {
			return nil, err
		}
		size, err := d.readVarUint32()
		if err != nil {
			return nil, err
		}
		payload, err := d.readBytes(size)
		if err != nil {
			return nil, err
		}
		sd := &decoder{r: bytes.NewReader(payload)}
		switch subID {
		case 0: // module name
			name, err := sd.readName()
			if err != nil {
				return nil, err
			}
			ns.ModuleName = name
		case 1: // function names
			count, err := sd.readVarUint32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				idx, err := sd.readVarUint32()
				if err != nil {
					return nil, err
				}
				name, err := sd.readName()
				if err != nil {
					return nil, err
				}
				ns.FunctionNames[idx] = name
			}
		case 2: // local names
			count, err := sd.readVarUint32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				fnIdx, err := sd.readVarUint32()
				if err != nil {
					return nil, err
				}
				localCount, err := sd.readVarUint32()
				if err != nil {
					return nil, err
				}
				m := map[wasm.Index]string{}
				for j := uint32(0); j < localCount; j++ {
					localIdx, err := sd.readVarUint32()
					if err != nil {
						return nil, err
					}
					name, err := sd.readName()
					if err != nil {
						return nil, err
					}
					m[localIdx] = name
				}
				ns.LocalNames[fnIdx] = m
			}
		}
	}
	return ns, nil
}
