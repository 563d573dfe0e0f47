// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package sectionreader

import (
	"io"
	"math"
	"strings"
	"testing"
)

func TestBasic(t *testing.T) {
	var abcd io.ReaderAt = strings.NewReader("abcd")
	var r io.ReaderAt

	r = Section(abcd, 0, 4)
	expectRead(t, r, 0, 4, "abcd")
	expectRead(t, r, 0, 5, "abcd EOF")
	expectRead(t, r, 4, 1, " EOF")
	expectRead(t, r, math.MaxInt64, 1, " EOF")

	r = Section(abcd, 1, 4)
	expectRead(t, r, 0, 4, "bcd EOF")
	expectRead(t, r, 0, 2, "bc")
}

func TestOverflow(t *testing.T) {
	var abcd io.ReaderAt = strings.NewReader("abcd")
	var r io.ReaderAt

	r = Section(abcd, 0, math.MaxInt64)
	expectRead(t, r, 0, 4, "abcd")
	expectRead(t, r, 0, 5, "abcd EOF")
	expectRead(t, r, math.MinInt64+2, 1, " EOF")

	r = Section(abcd, 10, math.MaxInt64)
	expectRead(t, r, math.MaxInt64, 1, " EOF")

	r = Section(abcd, math.MaxInt64, math.MaxInt64)
	expectRead(t, r, 0, 1, " EOF")
}

func TestFlattensOwnNesting(t *testing.T) {
	var abcd io.ReaderAt = strings.NewReader("abcd")

	inner := Section(abcd, 1, 3) // "bcd"
	outer := Section(inner, 1, 2)
	unwrap, off, n := outer.r, outer.off, outer.n
	if unwrap != abcd {
		t.Errorf("expected Section(Section(r)) to flatten onto the original r, got %T", unwrap)
	}
	if off != 2 || n != 2 {
		t.Errorf("expected flattened offset/length 2/2, got %d/%d", off, n)
	}
	expectRead(t, outer, 0, 2, "cd")
}

func expectRead(t *testing.T, r io.ReaderAt, off int64, n int, expect string) {
	buf := make([]byte, n)
	gotn, err := r.ReadAt(buf, off)
	gots := string(buf[:gotn])
	if err != nil {
		gots += " " + err.Error()
	}
	if gots != expect {
		t.Errorf("ReadAt(%d bytes at offset %d) -> expected %q got %q", n, off, expect, gots)
	}
}
