package region

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newRegions(t *testing.T, max uint64) map[string]*Region {
	t.Helper()
	// The slice backing is available on all platforms, so it is tested
	// alongside the native one. On platforms without a native implementation
	// this tests the same backing twice, which is fine.
	regions := map[string]*Region{}
	for name, backing := range map[string]Backing{"native": BackingOS, "slice": BackingSlice} {
		r, err := New(max, backing)
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, r.Close()) })
		regions[name] = r
	}
	return regions
}

func TestSbrkGrowAndShrink(t *testing.T) {
	for name, r := range newRegions(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			base := r.Base()
			require.NotNil(t, base)
			require.Equal(t, base, r.Top())
			require.Zero(t, r.Len())

			prev, err := r.Sbrk(100)
			require.NoError(t, err)
			require.Equal(t, base, prev)
			require.Equal(t, 100, r.Len())
			require.Equal(t, unsafe.Add(base, 100), r.Top())
			require.GreaterOrEqual(t, len(r.Committed()), 100)

			// Committed memory is writable.
			mem := r.Committed()
			for i := range mem[:100] {
				mem[i] = 0xab
			}

			prev, err = r.Sbrk(0)
			require.NoError(t, err)
			require.Equal(t, unsafe.Add(base, 100), prev)

			prev, err = r.Sbrk(-60)
			require.NoError(t, err)
			require.Equal(t, unsafe.Add(base, 100), prev)
			require.Equal(t, 40, r.Len())
			require.Equal(t, unsafe.Add(base, 40), r.Top())

			_, err = r.Sbrk(-40)
			require.NoError(t, err)
			require.Zero(t, r.Len())
			require.Empty(t, r.Committed())
		})
	}
}

func TestSbrkCommitsWholePages(t *testing.T) {
	r, err := New(1<<20, BackingOS)
	require.NoError(t, err)
	defer r.Close()

	page := r.PageSize()

	_, err = r.Sbrk(1)
	require.NoError(t, err)
	require.Len(t, r.Committed(), page)

	_, err = r.Sbrk(2 * page)
	require.NoError(t, err)
	require.Len(t, r.Committed(), 3*page)

	// Shrinking keeps the page holding the break committed.
	_, err = r.Sbrk(-page)
	require.NoError(t, err)
	require.Len(t, r.Committed(), 2*page)
	require.Equal(t, page+1, r.Len())

	// Memory handed back and committed again reads as zero.
	mem := r.Committed()
	mem[len(mem)-1] = 0xff
	_, err = r.Sbrk(-page)
	require.NoError(t, err)
	require.Len(t, r.Committed(), page)
	_, err = r.Sbrk(page)
	require.NoError(t, err)
	mem = r.Committed()
	require.Zero(t, mem[len(mem)-1])
}

func TestSbrkOutOfMemory(t *testing.T) {
	for name, r := range newRegions(t, 4096) {
		t.Run(name, func(t *testing.T) {
			_, err := r.Sbrk(r.Cap() + 1)
			require.ErrorIs(t, err, ErrOutOfMemory)
			require.Zero(t, r.Len())

			_, err = r.Sbrk(r.Cap())
			require.NoError(t, err)

			_, err = r.Sbrk(1)
			require.ErrorIs(t, err, ErrOutOfMemory)
			require.Equal(t, r.Cap(), r.Len())
		})
	}
}

func TestSbrkInvalidShrink(t *testing.T) {
	for name, r := range newRegions(t, 4096) {
		t.Run(name, func(t *testing.T) {
			_, err := r.Sbrk(10)
			require.NoError(t, err)

			_, err = r.Sbrk(-11)
			require.ErrorIs(t, err, ErrInvalidShrink)
			require.Equal(t, 10, r.Len())
		})
	}
}

func TestNewRejectsBadSizes(t *testing.T) {
	_, err := New(0, BackingSlice)
	require.ErrorIs(t, err, ErrOutOfMemory)

	_, err = New(^uint64(0), BackingOS)
	require.ErrorIs(t, err, ErrOutOfMemory)

	_, err = New(10, Backing(42))
	require.Error(t, err)
}

func TestNewSliceTooLarge(t *testing.T) {
	var err error
	require.NotPanics(t, func() { _, err = New(1<<62, BackingSlice) })
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestClose(t *testing.T) {
	r, err := New(4096, BackingOS)
	require.NoError(t, err)

	_, err = r.Sbrk(16)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.Nil(t, r.Base())
	require.Nil(t, r.Top())
	require.Zero(t, r.Len())

	_, err = r.Sbrk(16)
	require.ErrorIs(t, err, ErrClosed)

	// Closing twice is a no-op.
	require.NoError(t, r.Close())
}

func TestParseBacking(t *testing.T) {
	tests := []struct {
		in   string
		want Backing
	}{
		{in: "", want: BackingOS},
		{in: "os", want: BackingOS},
		{in: "slice", want: BackingSlice},
	}
	for _, tc := range tests {
		got, err := ParseBacking(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}

	_, err := ParseBacking("mmap")
	require.Error(t, err)

	require.Equal(t, "slice", BackingSlice.String())
	require.Equal(t, "Backing(7)", Backing(7).String())
}
