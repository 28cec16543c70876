package varint

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 63, 127, 128, 255, 300, 16384, 1 << 20, 1<<32 - 1, 1 << 40}
	buf := make([]byte, 9)
	for _, v := range cases {
		n := Put(buf, v)
		if n != Len(v) {
			t.Fatalf("Len(%d)=%d but Put wrote %d", v, Len(v), n)
		}
		got, read := Get(buf[:n])
		if got != v || read != n {
			t.Fatalf("round trip %d: got %d (read %d bytes, wrote %d)", v, got, read, n)
		}
	}
}

func TestGetTruncated(t *testing.T) {
	buf := make([]byte, 9)
	n := Put(buf, 1<<30)
	_, read := Get(buf[:n-1])
	if read != n-1 {
		t.Fatalf("expected truncated read of %d bytes, got %d", n-1, read)
	}
}
