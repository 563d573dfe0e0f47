// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package blockcache

import (
	"bytes"
	"testing"
)

func TestCacheGetPutRoundTrip(t *testing.T) {
	c := New()
	key := Key{Namespace: "partition-0", Index: 7}

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss before Put")
	}

	want := []byte("decoded block bytes")
	c.Put(key, want)

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCacheDistinguishesNamespaceAndIndex(t *testing.T) {
	c := New()
	a := Key{Namespace: "vol-a", Index: 1}
	b := Key{Namespace: "vol-b", Index: 1}
	c2 := Key{Namespace: "vol-a", Index: 2}

	c.Put(a, []byte("a"))
	c.Put(b, []byte("b"))
	c.Put(c2, []byte("c2"))

	for _, tc := range []struct {
		key  Key
		want string
	}{
		{a, "a"},
		{b, "b"},
		{c2, "c2"},
	} {
		got, ok := c.Get(tc.key)
		if !ok {
			t.Fatalf("missing key %+v", tc.key)
		}
		if string(got) != tc.want {
			t.Fatalf("key %+v = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestCacheCloseWithoutDiskTierIsNoop(t *testing.T) {
	c := New()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
