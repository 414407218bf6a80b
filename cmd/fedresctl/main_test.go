package main

import (
	"testing"

	"github.com/meridianfed/fedres/pkg/kerrors"
)

func TestExitCode_MapsKindsToDistinctCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 1},
		{kerrors.NotFoundf("slice", "s1"), 2},
		{kerrors.InvalidArgumentf("bad"), 3},
		{kerrors.InvalidStatef("bad"), 3},
		{kerrors.InsufficientResourcesf("bad"), 4},
		{kerrors.UnauthorizedPeerf("bad"), 5},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
