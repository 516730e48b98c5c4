package sigchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitCoalesces(t *testing.T) {
	s := New()
	s.Emit()
	s.Emit()
	s.Emit()

	select {
	case <-s.C():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-s.C():
		t.Fatal("signals should coalesce into one")
	default:
	}

	s.Emit()
	assert.Len(t, s.C(), 1)
}
