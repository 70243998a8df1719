package codefile

import (
	"testing"

	"github.com/mica-lang/mica/vm"
)

func sampleCode() *vm.CodeObject {
	inner := vm.NewCodeObject("sample.mc", "helper", 5)
	inner.Registers = 2
	inner.Params = []vm.Param{{Name: "x"}, {Name: "rest", Kind: vm.VarArgsParam}}
	inner.AddVarName("x")
	inner.AddVarName("rest")
	inner.AddInstruction(vm.OpLoadLocal, 0, 0, 0, 5)
	inner.AddInstruction(vm.OpReturn, 0, 0, 0, 5)

	co := vm.NewCodeObject("sample.mc", "main", 1)
	co.Registers = 4
	co.AddName("g")
	co.AddInlineCache()
	co.AddInlineMethodCache()
	co.AddConstant(vm.IntValue(42))
	co.AddConstant(vm.FloatValue(2.5))
	co.AddConstant(vm.StringValue("hello"))
	co.AddConstant(vm.TupleValue([]vm.RcValue{vm.IntValue(1), vm.None}))
	co.AddConstant(vm.CodeValue(inner))
	co.AddInstruction(vm.OpLoadConst, 0, 0, 0, 1)
	co.AddInstruction(vm.OpLoadGlobal, 1, 0, 0, 2)
	co.AddInstruction(vm.OpReturn, 1, 0, 0, 2)
	return co
}

func TestRoundTrip(t *testing.T) {
	co := sampleCode()

	data, err := Marshal(co)
	if err != nil {
		t.Fatalf("Unexpected marshal error: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unexpected unmarshal error: %v", err)
	}

	if got.Name != co.Name || got.Filename != co.Filename {
		t.Errorf("Expected %s/%s, got %s/%s", co.Filename, co.Name, got.Filename, got.Name)
	}
	if got.Registers != co.Registers {
		t.Errorf("Expected %d registers, got %d", co.Registers, got.Registers)
	}
	if len(got.Instructions) != len(co.Instructions) {
		t.Fatalf("Expected %d instructions, got %d", len(co.Instructions), len(got.Instructions))
	}
	if got.Instructions[1] != co.Instructions[1] {
		t.Errorf("Expected instruction %+v, got %+v", co.Instructions[1], got.Instructions[1])
	}
	if len(got.Constants) != len(co.Constants) {
		t.Fatalf("Expected %d constants, got %d", len(co.Constants), len(got.Constants))
	}
	if !got.Constants[0].Equal(co.Constants[0]) {
		t.Errorf("Expected constant 42, got %v", got.Constants[0].Value())
	}
	if !got.Constants[3].Equal(co.Constants[3]) {
		t.Errorf("Expected tuple constant preserved, got %v", got.Constants[3].Value())
	}

	innerGot := got.Constants[4].Value().Code
	if innerGot.Name != "helper" {
		t.Errorf("Expected nested code helper, got %q", innerGot.Name)
	}
	if len(innerGot.Params) != 2 || innerGot.Params[1].Kind != vm.VarArgsParam {
		t.Errorf("Expected params preserved, got %+v", innerGot.Params)
	}
}

func TestCacheSlotsComeBackCold(t *testing.T) {
	co := sampleCode()
	v := vm.IntValue(1)
	co.InlineCaches[0].Record(v, 3)
	v.Release()
	co.InlineMethodCaches[0].Update("Point", nil, 1)

	data, err := Marshal(co)
	if err != nil {
		t.Fatalf("Unexpected marshal error: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unexpected unmarshal error: %v", err)
	}

	if len(got.InlineCaches) != 1 || len(got.InlineMethodCaches) != 1 {
		t.Fatalf("Expected slot counts preserved, got %d and %d",
			len(got.InlineCaches), len(got.InlineMethodCaches))
	}
	if got.InlineCaches[0].Counter != 0 {
		t.Error("Expected value cache deserialized cold")
	}
	if got.InlineMethodCaches[0].CachedClassName != "" {
		t.Error("Expected method cache deserialized cold")
	}
}

func TestHashStableAcrossRuntimeState(t *testing.T) {
	a := sampleCode()
	b := sampleCode()

	// Runtime cache state must not affect the content hash.
	v := vm.IntValue(9)
	a.InlineCaches[0].Record(v, 7)
	v.Release()

	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ha != hb {
		t.Error("Expected identical code to hash identically regardless of cache state")
	}
}

func TestHashChangesWithCode(t *testing.T) {
	a := sampleCode()
	b := sampleCode()
	b.AddInstruction(vm.OpNop, 0, 0, 0, 9)

	ha, _ := Hash(a)
	hb, _ := Hash(b)
	if ha == hb {
		t.Error("Expected differing code to hash differently")
	}
}

func TestUnmarshalRejectsBadInput(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("Expected error for malformed bytes")
	}

	// Valid CBOR, wrong magic.
	co := sampleCode()
	data, err := Marshal(co)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	data = append([]byte(nil), data...)
	// Corrupt the magic string in place.
	for i := 0; i+4 <= len(data); i++ {
		if string(data[i:i+4]) == Magic {
			copy(data[i:i+4], "XXXX")
			break
		}
	}
	if _, err := Unmarshal(data); err == nil {
		t.Error("Expected error for wrong magic")
	}
}

func TestMarshalRejectsLiveValues(t *testing.T) {
	co := vm.NewCodeObject("bad.mc", "main", 1)
	fn := &vm.Function{Name: "f"}
	co.AddConstant(vm.FunctionValue(fn))

	if _, err := Marshal(co); err == nil {
		t.Error("Expected error for non-serializable constant")
	}
}
