package venue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindUnknown},
		{Connectivity(nil, "down"), KindConnectivity},
		{fmt.Errorf("wrapped: %w", Validation("missing %s", "symbol")), KindValidation},
		{Rejected(10016, "Invalid stops", true), KindRejected},
		{Timeout("开仓", 90*time.Second), KindTimeout},
		{context.DeadlineExceeded, KindTimeout},
		{fmt.Errorf("x: %w", ErrNotConnected), KindConnectivity},
		{errors.New("boom"), KindUnknown},
	}
	for i, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("case %d: KindOf(%v)=%s want %s", i, tc.err, got, tc.want)
		}
	}
}

func TestProtectiveRejection(t *testing.T) {
	if !IsProtectiveRejection(Rejected(10016, "Invalid stops", true)) {
		t.Fatalf("expected protective rejection")
	}
	if IsProtectiveRejection(Rejected(10019, "No money", false)) {
		t.Fatalf("margin rejection must not be protective")
	}
	if CodeOf(fmt.Errorf("ctx: %w", Rejected(110017, "x", false))) != 110017 {
		t.Fatalf("code not propagated")
	}
}

func TestTimeoutMessageCarriesCaveat(t *testing.T) {
	err := Timeout("开仓", 90*time.Second)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("timeout must wrap ErrTimeout")
	}
	if !strings.Contains(err.Error(), "可能仍会") {
		t.Fatalf("missing caveat: %s", err.Error())
	}
}
