package allocator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
)

func TestNonMoving(t *testing.T) {
	tests := []struct {
		name string
		mem  experimental.LinearMemory
	}{
		{
			name: "native",
			mem:  NewNonMoving().Allocate(10, 20),
		},
		// The slice allocator is compiled on every platform, so test it in
		// addition to the native one rather than needing qemu.
		{
			name: "slice",
			mem:  sliceAlloc(10, 20),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := tc.mem
			defer mem.Free()

			page := mem.(*regionMemory).r.PageSize()

			buf := mem.Reallocate(5)
			require.Len(t, buf, 5)
			require.Equal(t, (5+page-1)/page*page, cap(buf))
			base := &buf[0]

			buf = mem.Reallocate(5)
			require.Len(t, buf, 5)
			require.Equal(t, base, &buf[0])

			buf = mem.Reallocate(10)
			require.Len(t, buf, 10)
			require.Equal(t, base, &buf[0])

			buf = mem.Reallocate(20)
			require.Len(t, buf, 20)
			require.Equal(t, base, &buf[0])

			// Shrinking keeps the region and its contents.
			buf[3] = 7
			buf = mem.Reallocate(4)
			require.Len(t, buf, 4)
			require.Equal(t, byte(7), buf[3])
			require.Equal(t, base, &buf[0])

			require.PanicsWithError(t, errInvalidReallocation.Error(), func() { mem.Reallocate(21) })
		})
	}
}

func TestNonMovingZeroMax(t *testing.T) {
	for name, mem := range map[string]experimental.LinearMemory{
		"native": NewNonMoving().Allocate(0, 0),
		"slice":  sliceAlloc(0, 0),
	} {
		t.Run(name, func(t *testing.T) {
			defer mem.Free()

			require.Empty(t, mem.Reallocate(0))
			require.PanicsWithError(t, errInvalidReallocation.Error(), func() { mem.Reallocate(1) })
		})
	}
}

// memoryModule is a wasm binary declaring a memory of one page, growable to
// two, exported as "memory".
var memoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x05, 0x04, 0x01, 0x01, 0x01, 0x02, // memory section: min 1, max 2
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export section
}

func TestNonMovingWithWazero(t *testing.T) {
	ctx := experimental.WithMemoryAllocator(context.Background(), NewNonMoving())

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)

	mod, err := r.Instantiate(ctx, memoryModule)
	require.NoError(t, err)

	mem := mod.Memory()
	require.NotNil(t, mem)
	require.Equal(t, uint32(65536), mem.Size())

	require.True(t, mem.WriteUint32Le(0, 0xdeadbeef))
	before, ok := mem.Read(0, 4)
	require.True(t, ok)

	prev, ok := mem.Grow(1)
	require.True(t, ok)
	require.Equal(t, uint32(1), prev)
	require.Equal(t, uint32(2*65536), mem.Size())

	after, ok := mem.Read(0, 4)
	require.True(t, ok)
	require.Same(t, &before[0], &after[0])

	v, ok := mem.ReadUint32Le(0)
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), v)

	_, ok = mem.Grow(1)
	require.False(t, ok)
}
