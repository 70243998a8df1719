// Package codefile serializes compiled code objects to a canonical CBOR
// wire form and addresses them by content hash.
package codefile

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mica-lang/mica/vm"
)

// Magic identifies a serialized code file.
const Magic = "MICA"

// Version is the current wire format version.
const Version = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codefile: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Wire representation
// ---------------------------------------------------------------------------

// File is the top-level serialized form.
type File struct {
	Magic   string   `cbor:"magic"`
	Version int      `cbor:"version"`
	Code    wireCode `cbor:"code"`
}

type wireCode struct {
	Filename     string     `cbor:"filename"`
	Name         string     `cbor:"name"`
	FirstLine    int        `cbor:"first_line"`
	Instructions []wireIns  `cbor:"instructions"`
	Constants    []wireVal  `cbor:"constants"`
	Names        []string   `cbor:"names"`
	VarNames     []string   `cbor:"var_names"`
	FreeVars     []string   `cbor:"free_vars"`
	CellVars     []string   `cbor:"cell_vars"`
	Registers    int        `cbor:"registers"`
	Params       []wireParm `cbor:"params"`
	ValueSites   int        `cbor:"value_sites"`
	MethodSites  int        `cbor:"method_sites"`
}

type wireIns struct {
	Op   uint8 `cbor:"op"`
	A    int   `cbor:"a"`
	B    int   `cbor:"b"`
	C    int   `cbor:"c"`
	Line int   `cbor:"line"`
}

type wireParm struct {
	Name string `cbor:"name"`
	Kind uint8  `cbor:"kind"`
}

// wireVal carries one constant. Exactly one payload field is meaningful,
// selected by Kind. Only data kinds serialize: a constant pool never holds
// live functions or instances.
type wireVal struct {
	Kind  uint8     `cbor:"kind"`
	Bool  bool      `cbor:"bool,omitempty"`
	Int   int64     `cbor:"int,omitempty"`
	Float float64   `cbor:"float,omitempty"`
	Str   string    `cbor:"str,omitempty"`
	Tuple []wireVal `cbor:"tuple,omitempty"`
	Code  *wireCode `cbor:"code,omitempty"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// Marshal serializes a code object to canonical CBOR bytes. Canonical mode
// keeps the encoding deterministic so content hashes are stable across
// processes.
func Marshal(code *vm.CodeObject) ([]byte, error) {
	wc, err := encodeCode(code)
	if err != nil {
		return nil, err
	}
	f := File{Magic: Magic, Version: Version, Code: *wc}
	data, err := cborEncMode.Marshal(&f)
	if err != nil {
		return nil, fmt.Errorf("codefile: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a code object from CBOR bytes.
func Unmarshal(data []byte) (*vm.CodeObject, error) {
	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("codefile: unmarshal: %w", err)
	}
	if f.Magic != Magic {
		return nil, fmt.Errorf("codefile: bad magic %q", f.Magic)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("codefile: unsupported version %d", f.Version)
	}
	return decodeCode(&f.Code)
}

// Hash returns the content hash of a code object's canonical encoding.
func Hash(code *vm.CodeObject) ([32]byte, error) {
	data, err := Marshal(code)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// HashBytes returns the content hash of already-encoded bytes.
func HashBytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func encodeCode(code *vm.CodeObject) (*wireCode, error) {
	wc := &wireCode{
		Filename:    code.Filename,
		Name:        code.Name,
		FirstLine:   code.FirstLine,
		Names:       code.Names,
		VarNames:    code.VarNames,
		FreeVars:    code.FreeVars,
		CellVars:    code.CellVars,
		Registers:   code.Registers,
		ValueSites:  len(code.InlineCaches),
		MethodSites: len(code.InlineMethodCaches),
	}
	for _, ins := range code.Instructions {
		wc.Instructions = append(wc.Instructions, wireIns{
			Op: uint8(ins.Op), A: ins.A, B: ins.B, C: ins.C, Line: ins.Line,
		})
	}
	for _, p := range code.Params {
		wc.Params = append(wc.Params, wireParm{Name: p.Name, Kind: uint8(p.Kind)})
	}
	for i, c := range code.Constants {
		wv, err := encodeValue(c)
		if err != nil {
			return nil, fmt.Errorf("codefile: constant %d of %s: %w", i, code.Name, err)
		}
		wc.Constants = append(wc.Constants, *wv)
	}
	return wc, nil
}

func encodeValue(v vm.RcValue) (*wireVal, error) {
	val := v.Value()
	switch val.Kind {
	case vm.KindNone:
		return &wireVal{Kind: uint8(vm.KindNone)}, nil
	case vm.KindBool:
		return &wireVal{Kind: uint8(vm.KindBool), Bool: val.Bool}, nil
	case vm.KindInt:
		return &wireVal{Kind: uint8(vm.KindInt), Int: val.Int}, nil
	case vm.KindFloat:
		return &wireVal{Kind: uint8(vm.KindFloat), Float: val.Float}, nil
	case vm.KindString:
		return &wireVal{Kind: uint8(vm.KindString), Str: val.Str}, nil
	case vm.KindTuple:
		wv := &wireVal{Kind: uint8(vm.KindTuple)}
		for _, el := range val.Tuple {
			ev, err := encodeValue(el)
			if err != nil {
				return nil, err
			}
			wv.Tuple = append(wv.Tuple, *ev)
		}
		return wv, nil
	case vm.KindCode:
		wc, err := encodeCode(val.Code)
		if err != nil {
			return nil, err
		}
		return &wireVal{Kind: uint8(vm.KindCode), Code: wc}, nil
	}
	return nil, fmt.Errorf("kind %s is not serializable", val.TypeName())
}

func decodeCode(wc *wireCode) (*vm.CodeObject, error) {
	code := vm.NewCodeObject(wc.Filename, wc.Name, wc.FirstLine)
	code.Names = wc.Names
	code.VarNames = wc.VarNames
	code.FreeVars = wc.FreeVars
	code.CellVars = wc.CellVars
	code.Registers = wc.Registers
	for _, ins := range wc.Instructions {
		code.Instructions = append(code.Instructions, vm.Instruction{
			Op: vm.Opcode(ins.Op), A: ins.A, B: ins.B, C: ins.C, Line: ins.Line,
		})
	}
	for _, p := range wc.Params {
		code.Params = append(code.Params, vm.Param{Name: p.Name, Kind: vm.ParamKind(p.Kind)})
	}
	for i := range wc.Constants {
		v, err := decodeValue(&wc.Constants[i])
		if err != nil {
			return nil, fmt.Errorf("codefile: constant %d of %s: %w", i, wc.Name, err)
		}
		code.Constants = append(code.Constants, v)
	}
	// Cache slots are runtime state, not wire state: they come back cold.
	code.InlineCaches = make([]vm.InlineCache, wc.ValueSites)
	code.InlineMethodCaches = make([]vm.InlineMethodCache, wc.MethodSites)
	return code, nil
}

func decodeValue(wv *wireVal) (vm.RcValue, error) {
	switch vm.Kind(wv.Kind) {
	case vm.KindNone:
		return vm.None, nil
	case vm.KindBool:
		return vm.BoolValue(wv.Bool), nil
	case vm.KindInt:
		return vm.IntValue(wv.Int), nil
	case vm.KindFloat:
		return vm.FloatValue(wv.Float), nil
	case vm.KindString:
		return vm.StringValue(wv.Str), nil
	case vm.KindTuple:
		elems := make([]vm.RcValue, 0, len(wv.Tuple))
		for i := range wv.Tuple {
			el, err := decodeValue(&wv.Tuple[i])
			if err != nil {
				for _, e := range elems {
					e.Release()
				}
				return vm.RcValue{}, err
			}
			elems = append(elems, el)
		}
		return vm.TupleValue(elems), nil
	case vm.KindCode:
		if wv.Code == nil {
			return vm.RcValue{}, fmt.Errorf("code constant missing body")
		}
		inner, err := decodeCode(wv.Code)
		if err != nil {
			return vm.RcValue{}, err
		}
		return vm.CodeValue(inner), nil
	}
	return vm.RcValue{}, fmt.Errorf("unknown constant kind %d", wv.Kind)
}
