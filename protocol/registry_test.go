package protocol

import (
	"testing"

	"github.com/exserverd/mcmitm/wire"
)

type fakeSchema struct{}

func (fakeSchema) Decode(r wire.Reader) (map[string]any, error) { return nil, nil }
func (fakeSchema) Encode(w wire.Writer, f map[string]any) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	fqid := FQID{Protocol: 340, Side: Serverbound, State: StateHandshake, ID: 0}
	reg.Register(fqid, fakeSchema{})

	got, ok := reg.Lookup(fqid)
	if !ok {
		t.Fatal("expected schema to be found")
	}
	if _, ok := got.(fakeSchema); !ok {
		t.Errorf("got wrong schema type %T", got)
	}
}

func TestLookupUnknown(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Lookup(FQID{Protocol: 340, Side: Clientbound, State: StatePlay, ID: 99})
	if ok {
		t.Error("expected unknown FQID to miss")
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := NewRegistry()
	fqid := FQID{Protocol: 340, Side: Serverbound, State: StateLogin, ID: 1}
	reg.Register(fqid, fakeSchema{})

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	reg.Register(fqid, fakeSchema{})
}

func TestFQIDString(t *testing.T) {
	fqid := FQID{Protocol: 340, Side: Clientbound, State: StateLogin, ID: 1}
	want := "v340/clientbound/login/0x01"
	if got := fqid.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
