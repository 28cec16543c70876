package errcode

import (
	"testing"

	"ember/pkg/ember/btree"
	"ember/pkg/ember/fileio"
	"ember/pkg/ember/pager"
	"ember/pkg/ember/schema"
)

func TestOfClassifiesSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, Ok},
		{btree.ErrKeyNotFound, NotFound},
		{schema.ErrBucketNotFound, NotFound},
		{btree.ErrEmptyKey, InvalidArgument},
		{schema.ErrBucketExists, InvalidArgument},
		{pager.ErrCorruption, Corruption},
		{btree.ErrCorruptNode, Corruption},
		{pager.ErrReadOnly, NotSupported},
		{pager.ErrWrongMode, Aborted},
	}
	for _, c := range cases {
		if got := Of(c.err); got != c.want {
			t.Errorf("Of(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestSubcodeOfBusyAndAborted(t *testing.T) {
	if got := SubcodeOf(fileio.ErrBusy); got != SubRetry {
		t.Errorf("SubcodeOf(ErrBusy) = %v, want SubRetry", got)
	}
	if got := SubcodeOf(pager.ErrWrongMode); got != SubNoMemory {
		t.Errorf("SubcodeOf(ErrWrongMode) = %v, want SubNoMemory", got)
	}
	if got := SubcodeOf(btree.ErrKeyNotFound); got != SubNone {
		t.Errorf("SubcodeOf(ErrKeyNotFound) = %v, want SubNone", got)
	}
}
